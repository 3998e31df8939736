package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mesisim/system"
)

var _ = Describe("stress", func() {
	It("should run random traffic and report throughput", func() {
		out := new(bytes.Buffer)
		opts := stressOptions{
			traffic: system.RandomTraffic{
				Seed:       3,
				Ops:        200,
				Span:       512,
				WriteRatio: 0.5,
			},
			memProfile: filepath.Join(GinkgoT().TempDir(), "mem.prof"),
			duration:   20 * time.Second,
		}

		Expect(runStress(context.Background(), opts, out)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("Accesses: 800"))
		Expect(out.String()).To(ContainSubstring("Cache 3: hit rate"))
		Expect(opts.memProfile).To(BeAnExistingFile())
	})

	It("should reject a span beyond memory", func() {
		opts := stressOptions{
			traffic: system.RandomTraffic{Ops: 1, Span: 1 << 20},
		}

		Expect(runStress(context.Background(), opts, new(bytes.Buffer))).
			NotTo(Succeed())
	})
})
