package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/config"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/tracing"
)

var _ = Describe("Command line", func() {
	It("should let flags override the configuration", func() {
		Expect(rootCmd.Flags().Parse([]string{
			"--backend", "memory", "-f", "64K", "-vv", "--simulate",
		})).To(Succeed())

		cfg, err := loadConfig(rootCmd)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Backend).To(Equal("memory"))
		Expect(cfg.FlashSize.Bytes()).To(Equal(uint32(64 << 10)))
		Expect(cfg.Verbosity).To(Equal(int(logging.Debug)))
		Expect(cfg.Simulate).To(BeTrue())
		Expect(cfg.WindowSize.Bytes()).To(Equal(uint32(1 << 20)))
	})
})

var _ = Describe("Simulated daemon", func() {
	var (
		dir string
		cfg config.Config
	)

	BeforeEach(func() {
		var err error

		dir, err = os.MkdirTemp("", "mboxd")
		Expect(err).NotTo(HaveOccurred())

		cfg = config.Default()
		cfg.Simulate = true
		cfg.Backend = "memory"
		cfg.FlashSize = 4 << 20
		cfg.ReservedMemory = 4 << 20
		cfg.ControlSocket = filepath.Join(dir, "ctl.sock")
		cfg.TracePath = filepath.Join(dir, "trace.blk")
		cfg.JournalPath = filepath.Join(dir, "journal.sqlite3")
		Expect(cfg.Validate()).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("should fill the reserved memory with windows", func() {
		res := &resources{}

		d, _, err := build(cfg, logging.Discard(), res)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Session().Pool().NumWindows()).To(Equal(4))
		Expect(res.release()).To(Succeed())
	})

	It("should trace and journal the commands it serves", func() {
		res := &resources{}

		d, st, err := build(cfg, logging.Discard(), res)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		go func() { done <- d.Run(ctx) }()

		var workErr error

		Expect(d.Execute(ctx, func() {
			hiomap := d.Controller().HIOMAP()

			if _, workErr = hiomap.GetInfo(2); workErr != nil {
				return
			}

			_, workErr = hiomap.CreateWindow(0, 1, true)
		})).To(Succeed())
		Expect(workErr).NotTo(HaveOccurred())

		cancel()
		Eventually(done).Should(Receive(BeNil()))

		Expect(st.reads.TaskCount()).To(Equal(uint64(1)))
		Expect(st.writes.TaskCount()).To(BeZero())

		f, err := os.Open(cfg.TracePath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		records, err := tracing.ReadBlkRecords(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))

		db, err := sql.Open("sqlite3", cfg.JournalPath)
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		var n int
		Expect(db.QueryRow("SELECT COUNT(*) FROM commands;").Scan(&n)).
			To(Succeed())
		Expect(n).To(Equal(2))

		_, err = os.Stat(cfg.ControlSocket)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
