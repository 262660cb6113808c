package baggage

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Fields", func() {
	var (
		countryCode = NewField("country-code")
		requestID   = NewField("request-id")
		userID      = NewField("user-id")

		eventChan <-chan Event
	)

	BeforeEach(func() {
		var handler EventHandler
		handler, eventChan = NewOnEventChannel(10)
		SetGlobalEventHandler(handler)
	})

	AfterEach(func() {
		SetGlobalEventHandler(NewOnEventLogOneError())
	})

	Describe("with a static field set", func() {
		var fields *Fields

		BeforeEach(func() {
			factory := NewFieldsFactory(WithFields(countryCode, requestID))
			fields = factory.New()
		})

		It("lists the initial fields regardless of value", func() {
			Expect(fields.GetAllFields()).To(Equal([]*Field{countryCode, requestID}))
			Expect(fields.IsDynamic()).To(BeFalse())
		})

		It("reads nil for a field with no value assigned", func() {
			Expect(fields.GetValue(countryCode)).To(BeNil())
			Expect(fields.GetValue(nil)).To(BeNil())
		})

		It("applies an update and reads it back", func() {
			Expect(fields.UpdateValue(countryCode, "FO")).To(BeTrue())
			Expect(fields.GetValue(countryCode)).To(Equal("FO"))
			Expect(fields.GetValue(requestID)).To(BeNil())
		})

		It("reports no change for a redundant update", func() {
			Expect(fields.UpdateValue(countryCode, "FO")).To(BeTrue())
			before := fields.state.Load()
			Expect(fields.UpdateValue(countryCode, "FO")).To(BeFalse())
			Expect(fields.state.Load()).To(BeIdenticalTo(before))
		})

		It("clears a value with nil", func() {
			Expect(fields.UpdateValue(countryCode, "FO")).To(BeTrue())
			Expect(fields.UpdateValue(countryCode, nil)).To(BeTrue())
			Expect(fields.GetValue(countryCode)).To(BeNil())
		})

		It("drops updates to unknown fields by policy", func() {
			before := fields.state.Load()
			Expect(fields.UpdateValue(userID, "u-1")).To(BeFalse())
			Expect(fields.state.Load()).To(BeIdenticalTo(before))
			Expect(eventChan).NotTo(Receive())
		})

		It("reports no change for a nil field", func() {
			Expect(fields.UpdateValue(nil, "x")).To(BeFalse())
		})

		It("renders the current state", func() {
			fields.UpdateValue(countryCode, "FO")
			Expect(fields.String()).To(Equal("Fields{country-code=FO,request-id=null}"))
		})
	})

	Describe("with dynamic fields", func() {
		var fields *Fields

		BeforeEach(func() {
			factory := NewFieldsFactory(WithDynamicFields(), WithMaxDynamicFields(3))
			fields = factory.New()
		})

		It("appends unknown fields in update order", func() {
			Expect(fields.UpdateValue(countryCode, "FO")).To(BeTrue())
			Expect(fields.UpdateValue(requestID, "r-1")).To(BeTrue())
			Expect(fields.GetAllFields()).To(Equal([]*Field{countryCode, requestID}))
			Expect(fields.GetValue(requestID)).To(Equal("r-1"))
		})

		It("drops fields past the cap and emits an event", func() {
			Expect(fields.UpdateValue(NewField("d1"), "1")).To(BeTrue())
			Expect(fields.UpdateValue(NewField("d2"), "2")).To(BeTrue())
			Expect(fields.UpdateValue(NewField("d3"), "3")).To(BeTrue())

			before := fields.state.Load()
			Expect(fields.UpdateValue(NewField("d4"), "4")).To(BeFalse())
			Expect(fields.state.Load()).To(BeIdenticalTo(before))

			var event Event
			Expect(eventChan).To(Receive(&event))
			capEvent, ok := event.(EventDynamicFieldCapExceeded)
			Expect(ok).To(BeTrue())
			Expect(capEvent.Cap()).To(Equal(3))
		})

		It("still updates existing fields at the cap", func() {
			Expect(fields.UpdateValue(NewField("d1"), "1")).To(BeTrue())
			Expect(fields.UpdateValue(NewField("d2"), "2")).To(BeTrue())
			Expect(fields.UpdateValue(NewField("d3"), "3")).To(BeTrue())
			Expect(fields.UpdateValue(NewField("d2"), "2b")).To(BeTrue())
			Expect(fields.GetValue(NewField("d2"))).To(Equal("2b"))
		})
	})

	Describe("under concurrent updates", func() {
		It("loses no distinct dynamic field", func() {
			const n = 16
			factory := NewFieldsFactory(WithDynamicFields(), WithMaxDynamicFields(n))
			fields := factory.New()

			distinct := make([]*Field, n)
			for i := range distinct {
				distinct[i] = NewField(fmt.Sprintf("concurrent-%d", i))
			}

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// A single call may lose its attempt budget under
					// contention; callers that need the update to stick
					// retry at this level.
					for !fields.UpdateValue(distinct[i], fmt.Sprintf("v%d", i)) {
					}
				}(i)
			}
			wg.Wait()

			Expect(fields.GetAllFields()).To(HaveLen(n))
			for i, field := range distinct {
				Expect(fields.GetValue(field)).To(Equal(fmt.Sprintf("v%d", i)))
			}
		})

		It("serializes concurrent writes to one field", func() {
			factory := NewFieldsFactory(WithFields(countryCode))
			fields := factory.New()

			const n = 8
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					for !fields.UpdateValue(countryCode, fmt.Sprintf("w%d", i)) {
					}
				}(i)
			}
			wg.Wait()

			// Which writer wins is nondeterministic, but the final value is
			// always one complete write.
			final := fields.GetValue(countryCode)
			Expect(final).To(HavePrefix("w"))
		})
	})

	Describe("merge keeping ours on conflict", func() {
		var (
			a = NewField("merge-a")
			b = NewField("merge-b")
			c = NewField("merge-c")

			factory *FieldsFactory
		)

		BeforeEach(func() {
			factory = NewFieldsFactory(WithDynamicFields(), WithMaxDynamicFields(8))
		})

		It("keeps our non-nil values, fills our nil values, and appends new fields", func() {
			ours := factory.New()
			Expect(ours.UpdateValue(a, "1")).To(BeTrue())
			Expect(ours.UpdateValue(b, nil)).To(BeTrue())

			theirs := factory.New()
			Expect(theirs.UpdateValue(a, "2")).To(BeTrue())
			Expect(theirs.UpdateValue(b, "3")).To(BeTrue())
			Expect(theirs.UpdateValue(c, "4")).To(BeTrue())

			ours.state.Store(ours.mergeStateKeepingOursOnConflict(theirs))

			Expect(ours.GetValue(a)).To(Equal("1"))
			Expect(ours.GetValue(b)).To(Equal("3"))
			Expect(ours.GetValue(c)).To(Equal("4"))
		})

		It("returns the same array when nothing changes", func() {
			ours := factory.New()
			Expect(ours.UpdateValue(a, "1")).To(BeTrue())

			theirs := factory.New()
			Expect(theirs.UpdateValue(a, "2")).To(BeTrue())

			before := ours.state.Load()
			Expect(ours.mergeStateKeepingOursOnConflict(theirs)).To(BeIdenticalTo(before))
		})

		It("drops only the appends past the cap and emits an event", func() {
			capped := NewFieldsFactory(WithDynamicFields(), WithMaxDynamicFields(2))
			ours := capped.New()
			Expect(ours.UpdateValue(a, "1")).To(BeTrue())

			theirs := factory.New()
			Expect(theirs.UpdateValue(b, "2")).To(BeTrue())
			Expect(theirs.UpdateValue(c, "3")).To(BeTrue())

			ours.state.Store(ours.mergeStateKeepingOursOnConflict(theirs))

			Expect(ours.GetValue(a)).To(Equal("1"))
			Expect(ours.GetValue(b)).To(Equal("2"))
			Expect(ours.GetValue(c)).To(BeNil())

			var event Event
			Expect(eventChan).To(Receive(&event))
			_, ok := event.(EventDynamicFieldCapExceeded)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("ToMapFilteringFields", func() {
		It("redacts the given fields from the view", func() {
			factory := NewFieldsFactory(WithFields(countryCode, requestID))
			fields := factory.New()
			fields.UpdateValue(countryCode, "FO")
			fields.UpdateValue(requestID, "r-1")

			m := fields.ToMapFilteringFields(requestID)
			Expect(m.Size()).To(Equal(1))
			Expect(m.Get(countryCode)).To(Equal("FO"))
			Expect(m.ContainsKey(requestID)).To(BeFalse())
		})

		It("returns the full view when nothing is filtered", func() {
			factory := NewFieldsFactory(WithFields(countryCode))
			fields := factory.New()
			fields.UpdateValue(countryCode, "FO")

			m := fields.ToMapFilteringFields()
			Expect(m.Size()).To(Equal(1))
		})
	})
})
