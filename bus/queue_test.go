package bus

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RequestQueue", func() {
	var q *RequestQueue

	BeforeEach(func() {
		q = NewRequestQueue(4)
	})

	requesters := func(txns []*Transaction) []int {
		ids := make([]int, 0, len(txns))
		for _, t := range txns {
			ids = append(ids, t.Requester)
		}
		return ids
	}

	It("should report size and emptiness", func() {
		Expect(q.IsEmpty()).To(BeTrue())

		Expect(q.Push(NewTransaction(1, CmdRead, 0))).To(Succeed())
		Expect(q.Push(NewTransaction(2, CmdRead, 0))).To(Succeed())

		Expect(q.Size()).To(Equal(2))
		Expect(q.IsEmpty()).To(BeFalse())
	})

	It("should pop FIFO with TryPop", func() {
		first := NewTransaction(3, CmdRead, 0)
		second := NewTransaction(0, CmdRead, 0)
		Expect(q.Push(first)).To(Succeed())
		Expect(q.Push(second)).To(Succeed())

		got, ok := q.TryPop()
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(first))

		got, ok = q.TryPop()
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(second))

		_, ok = q.TryPop()
		Expect(ok).To(BeFalse())
	})

	It("should start the round-robin scan after the last granted requester", func() {
		for _, id := range []int{0, 1, 2, 3} {
			Expect(q.Push(NewTransaction(id, CmdRead, 0))).To(Succeed())
		}

		txn, err := q.PopPriority(context.Background(), 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(txn.Requester).To(Equal(2))
	})

	It("should dequeue one-per-requester in cyclic order regardless of insertion", func() {
		for _, id := range []int{3, 1, 0, 2} {
			Expect(q.Push(NewTransaction(id, CmdRead, 0))).To(Succeed())
		}

		last := 1
		var order []int
		for i := 0; i < 4; i++ {
			txn, err := q.PopPriority(context.Background(), last)
			Expect(err).NotTo(HaveOccurred())
			order = append(order, txn.Requester)
			last = txn.Requester
		}

		Expect(order).To(Equal([]int{2, 3, 0, 1}))
	})

	It("should keep the relative order of the remaining entries", func() {
		a := NewTransaction(0, CmdRead, 0x00)
		b := NewTransaction(2, CmdRead, 0x20)
		c := NewTransaction(0, CmdRead, 0x40)
		d := NewTransaction(1, CmdRead, 0x60)
		for _, t := range []*Transaction{a, b, c, d} {
			Expect(q.Push(t)).To(Succeed())
		}

		txn, err := q.PopPriority(context.Background(), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(txn).To(BeIdenticalTo(d))

		var rest []*Transaction
		for !q.IsEmpty() {
			t, _ := q.TryPop()
			rest = append(rest, t)
		}
		Expect(rest).To(Equal([]*Transaction{a, b, c}))
		Expect(requesters(rest)).To(Equal([]int{0, 2, 0}))
	})

	It("should serve a requester's own transactions in arrival order", func() {
		first := NewTransaction(2, CmdRead, 0x00)
		second := NewTransaction(2, CmdRead, 0x20)
		Expect(q.Push(first)).To(Succeed())
		Expect(q.Push(second)).To(Succeed())

		txn, _ := q.PopPriority(context.Background(), 3)
		Expect(txn).To(BeIdenticalTo(first))
	})

	It("should block until a transaction arrives", func() {
		result := make(chan *Transaction, 1)
		go func() {
			defer GinkgoRecover()
			txn, err := q.PopPriority(context.Background(), 3)
			Expect(err).NotTo(HaveOccurred())
			result <- txn
		}()

		Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

		pushed := NewTransaction(1, CmdRead, 0)
		Expect(q.Push(pushed)).To(Succeed())

		Eventually(result).Should(Receive(BeIdenticalTo(pushed)))
	})

	It("should return when the context is cancelled", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := q.PopPriority(ctx, 0)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("should release waiters and return pending entries on Close", func() {
		pending := NewTransaction(0, CmdRead, 0)
		Expect(q.Push(pending)).To(Succeed())
		Expect(q.Close()).To(Equal([]*Transaction{pending}))
		Expect(q.Close()).To(BeEmpty())

		_, err := q.PopPriority(context.Background(), 0)
		Expect(err).To(MatchError(ErrQueueClosed))
		Expect(q.Push(NewTransaction(1, CmdRead, 0))).To(MatchError(ErrQueueClosed))
	})

	It("should wake a blocked waiter on Close", func() {
		errs := make(chan error, 1)
		go func() {
			_, err := q.PopPriority(context.Background(), 0)
			errs <- err
		}()

		Consistently(errs, 20*time.Millisecond).ShouldNot(Receive())
		q.Close()
		Eventually(errs).Should(Receive(MatchError(ErrQueueClosed)))
	})
})
