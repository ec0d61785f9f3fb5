package vpnor

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/errkind"
)

var _ = Describe("ToC line", func() {
	It("should parse the sizes in blocks", func() {
		p, err := ParseTocLine(
			"partition01=HBB,0x00008000,0x00010000,80,ECC,PRESERVED", 0x1000, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name).To(Equal("HBB"))
		Expect(p.ID).To(Equal(uint32(1)))
		Expect(p.Base).To(Equal(uint32(8)))
		Expect(p.Size).To(Equal(uint32(8)))
		Expect(p.Actual).To(Equal(uint32(0x8000)))
		Expect(p.PID).To(Equal(uint32(0xffffffff)))
		Expect(p.Type).To(Equal(uint32(1)))
		Expect(p.Version()).To(Equal(uint8(0x80)))
		Expect(p.User[0]).To(Equal(ECCProtected))
		Expect(p.Preserved()).To(BeTrue())
		Expect(p.ReadOnly()).To(BeFalse())
	})

	It("should accept addresses without a 0x prefix", func() {
		p, err := ParseTocLine("partition02=HBEL,10000,14000,00", 0x1000, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(p.Base).To(Equal(uint32(0x10)))
		Expect(p.Size).To(Equal(uint32(4)))
	})

	DescribeTable("flags",
		func(flags string, expected uint32) {
			p, err := ParseTocLine(
				"partition05=NVRAM,0x00100000,0x00101000,00"+flags, 0x1000, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.User[1]).To(Equal(expected))
		},
		Entry("none", "", uint32(0)),
		Entry("read-only", ",READONLY", FlagReadOnly),
		Entry("read-write wins when last", ",READONLY,READWRITE", uint32(0)),
		Entry("preserved", ",PRESERVED", FlagPreserved),
		Entry("reprovision", ",REPROVISION", FlagReprovision),
		Entry("volatile", ",VOLATILE", FlagVolatile),
		Entry("clear ecc", ",CLEARECC", FlagClearECC),
		Entry("unknown flags are ignored", ",SHINY", uint32(0)),
	)

	It("should force the ToC partition read-only", func() {
		p, err := ParseTocLine(
			"partition00=part,0x00000000,0x00002000,00,READWRITE", 0x1000, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(p.ReadOnly()).To(BeTrue())
	})

	It("should truncate long names", func() {
		p, err := ParseTocLine(
			"partition07=ABCDEFGHIJKLMNOPQRS,0x1000,0x2000,00", 0x1000, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name).To(Equal("ABCDEFGHIJKLMNO"))
	})

	It("should refuse malformed lines", func() {
		_, err := ParseTocLine("partition01=HBB,zzz", 0x1000, nil)

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})

	It("should refuse empty ranges", func() {
		_, err := ParseTocLine("partition01=HBB,0x2000,0x2000,00", 0x1000, nil)

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})
})
