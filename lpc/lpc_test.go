package lpc

import (
	"errors"
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/errkind"
)

var _ = Describe("Mappings", func() {
	It("should match the kernel structure layout", func() {
		Expect(unsafe.Sizeof(Mapping{})).To(Equal(uintptr(16)))
	})

	DescribeTable("base addresses",
		func(size, base uint32) {
			Expect(BaseFor(size)).To(Equal(base))
		},
		Entry("64MiB", uint32(0x4000000), uint32(0x0C000000)),
		Entry("32MiB", uint32(0x2000000), uint32(0x0E000000)),
		Entry("1MiB", uint32(0x100000), uint32(0x0FF00000)),
	)

	It("should point flash mappings at the top of firmware space", func() {
		m := FlashMapping(0x4000000)

		Expect(m.Type).To(Equal(WindowFlash))
		Expect(m.Addr).To(Equal(uint32(0x0C000000)))
		Expect(m.Size).To(Equal(uint32(0x4000000)))
		Expect(m.Offset).To(BeZero())
	})
})

var _ = Describe("Simulated", func() {
	var ctrl *Simulated

	BeforeEach(func() {
		ctrl = NewSimulated(0x200000)
	})

	It("should provide the reserved memory", func() {
		Expect(ctrl.Memory()).To(HaveLen(0x200000))
		Expect(ctrl.Base()).To(Equal(uint32(0x0FE00000)))
	})

	It("should record mappings", func() {
		_, ok := ctrl.Current()
		Expect(ok).To(BeFalse())

		Expect(ctrl.MapFlash(0x4000000)).To(Succeed())
		Expect(ctrl.MapMemory()).To(Succeed())

		Expect(ctrl.Mappings()).To(HaveLen(2))
		m, ok := ctrl.Current()
		Expect(ok).To(BeTrue())
		Expect(m).To(Equal(MemoryMapping(0x200000)))
	})

	It("should fail mappings on request", func() {
		ctrl.MapErr = errors.New("ioctl failed")

		err := ctrl.MapMemory()

		Expect(errkind.KindOf(err)).To(Equal(errkind.BackendIO))
		Expect(ctrl.Mappings()).To(BeEmpty())
	})

	It("should refuse mappings once closed", func() {
		Expect(ctrl.Close()).To(Succeed())

		Expect(ctrl.MapFlash(0x1000)).NotTo(Succeed())
	})
})
