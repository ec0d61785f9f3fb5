package backend

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type alignedBackend struct {
	*MockBackend
}

func (b alignedBackend) AlignOffset(offset, windowSize uint32) (uint32, error) {
	return offset &^ 0xfff, nil
}

var _ = Describe("Optional capabilities", func() {
	var (
		mockCtrl *gomock.Controller
		be       *MockBackend
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		be = NewMockBackend(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should treat every access as valid by default", func() {
		Expect(Validate(be, 0, 0x1000, false)).To(Succeed())
		Expect(Validate(be, 0, 0x1000, true)).To(Succeed())
	})

	It("should ignore bytemap updates by default", func() {
		Expect(SetBytemap(be, 0, 0x1000, Erased)).To(Succeed())
	})

	It("should align to the window size by default", func() {
		offset, err := AlignOffset(be, 0x123456, 0x100000)

		Expect(err).NotTo(HaveOccurred())
		Expect(offset).To(Equal(uint32(0x100000)))
	})

	It("should use the backend alignment policy when there is one", func() {
		offset, err := AlignOffset(alignedBackend{be}, 0x123456, 0x100000)

		Expect(err).NotTo(HaveOccurred())
		Expect(offset).To(Equal(uint32(0x123000)))
	})
})
