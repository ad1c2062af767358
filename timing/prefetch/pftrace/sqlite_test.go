//go:build cgo

package pftrace_test

import (
	"database/sql"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/pfsim/timing/prefetch/pftrace"
)

var _ = Describe("SQLiteWriter", func() {
	It("should store flushed records", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")

		w := pftrace.NewSQLiteWriter(path)
		Expect(w.Init()).To(Succeed())

		w.Write(pftrace.Record{ID: "a", Kind: "prefetch", Addr: 0x40, Cycle: 1})
		w.Write(pftrace.Record{ID: "b", Kind: "metadata-read", Addr: 0x80, Cycle: 2})
		Expect(w.Close()).To(Succeed())

		db, err := sql.Open("sqlite3", path+".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		var count int
		Expect(db.QueryRow(`select count(*) from prefetch_trace`).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(2))

		var addr int64
		Expect(db.QueryRow(`select addr from prefetch_trace where kind = 'metadata-read'`).
			Scan(&addr)).To(Succeed())
		Expect(addr).To(Equal(int64(0x80)))
	})

	It("should keep and report records it fails to write", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		logger, hook := test.NewNullLogger()

		w := pftrace.NewSQLiteWriter(path).WithLogger(logger).WithBatchSize(2)
		Expect(w.Init()).To(Succeed())
		Expect(w.DB.Close()).To(Succeed())

		w.Write(pftrace.Record{ID: "a", Kind: "prefetch", Addr: 0x40, Cycle: 1})
		Expect(hook.Entries).To(BeEmpty())

		w.Write(pftrace.Record{ID: "b", Kind: "prefetch", Addr: 0x80, Cycle: 2})
		Expect(hook.LastEntry()).NotTo(BeNil())
		Expect(hook.LastEntry().Level).To(Equal(logrus.ErrorLevel))
		Expect(hook.LastEntry().Data).To(HaveKeyWithValue("path", path+".sqlite3"))
		Expect(w.Pending()).To(Equal(2))

		Expect(w.Flush()).NotTo(Succeed())
		Expect(w.Pending()).To(Equal(2))
	})
})
