package trace_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/system"
	"github.com/sarchlab/mesisim/trace"
)

func countRows(path, query string, args ...any) int {
	db, err := sql.Open("sqlite3", path)
	Expect(err).NotTo(HaveOccurred())
	defer db.Close()

	var n int
	Expect(db.QueryRow(query, args...).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("SQLiteRecorder", func() {
	var (
		path     string
		recorder *trace.SQLiteRecorder
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "trace.sqlite3")

		var err error
		recorder, err = trace.NewSQLiteRecorder(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(recorder.Path()).To(Equal(path))
	})

	AfterEach(func() {
		Expect(recorder.Close()).To(Succeed())
	})

	It("should refuse an existing file", func() {
		_, err := trace.NewSQLiteRecorder(path)
		Expect(err).To(HaveOccurred())
	})

	It("should record transactions and transitions of a run", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := system.New(system.DefaultConfig(), system.WithHook(recorder))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(ctx,
			system.IncrementWorkload(0x0),
			system.IncrementWorkload(0x0),
		)).To(Succeed())
		Expect(s.Flush(ctx)).To(Succeed())
		s.Stop()

		Expect(recorder.Close()).To(Succeed())
		Expect(recorder.Flush()).To(MatchError(trace.ErrClosed))

		granted := int(s.Bus().Stats().Granted)
		Expect(countRows(path, `select count(*) from bus_transactions`)).
			To(Equal(granted))
		Expect(countRows(path,
			`select count(*) from bus_transactions where status = ?`, "failed")).
			To(BeZero())
		Expect(countRows(path,
			`select count(*) from state_transitions where to_state = ?`, "Modified")).
			To(BeNumerically(">=", 2))
	})

	It("should flush when the batch is full", func() {
		recorder.SetBatchSize(1)

		s, err := system.New(system.DefaultConfig(), system.WithHook(recorder))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Run(context.Background(),
			func(ctx context.Context, c *core.Core) error {
				_, err := c.Load(ctx, 0x20)
				return err
			},
		)).To(Succeed())
		s.Stop()

		Expect(countRows(path, `select count(*) from bus_transactions`)).
			To(Equal(1))
	})

	It("should create a unique file when no path is given", func() {
		dir := GinkgoT().TempDir()
		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(dir)).To(Succeed())
		defer func() { Expect(os.Chdir(wd)).To(Succeed()) }()

		r, err := trace.NewSQLiteRecorder("")
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(r.Path()).To(HavePrefix("mesisim_trace_"))
		Expect(filepath.Join(dir, r.Path())).To(BeAnExistingFile())
	})
})
