package file

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mboxd/backend"
	"github.com/sarchlab/mboxd/errkind"
)

var _ = Describe("Flash", func() {
	var (
		path  string
		flash *Flash
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "pnor.img")
		Expect(os.WriteFile(path, []byte("hello"), 0o600)).To(Succeed())

		var err error
		flash, err = Open(path, 0x4000, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(flash.Close()).To(Succeed())
	})

	It("should extend a short image with erased bytes", func() {
		content, err := os.ReadFile(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(HaveLen(0x4000))
		Expect(content[:5]).To(Equal([]byte("hello")))
		Expect(content[5:]).To(Equal(bytes.Repeat([]byte{0xff}, 0x4000-5)))
		Expect(flash.Geometry()).To(Equal(backend.Geometry{
			FlashSize:      0x4000,
			EraseSizeShift: 12,
		}))
	})

	It("should use the image size when no size is given", func() {
		other, err := Open(path, 0, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(other.Geometry().FlashSize).To(Equal(uint32(0x4000)))
		Expect(other.Close()).To(Succeed())
	})

	It("should refuse a missing path", func() {
		_, err := Open("", 0x1000, nil)

		Expect(errkind.KindOf(err)).To(Equal(errkind.Configuration))
	})

	It("should copy up to the end of the image", func() {
		buf := make([]byte, 0x100)

		n, err := flash.Copy(0x3f80, buf)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0x80))
	})

	It("should write and erase", func() {
		Expect(flash.Erase(0, 0x1000)).To(Succeed())
		Expect(flash.Write(0x10, []byte{1, 2})).To(Succeed())

		buf := make([]byte, 0x20)
		_, err := flash.Copy(0, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[0]).To(Equal(byte(0xff)))
		Expect(buf[0x10:0x12]).To(Equal([]byte{1, 2}))

		Expect(flash.Erase(0, 0x1000)).To(Succeed())
		_, err = flash.Copy(0, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[0x10]).To(Equal(byte(0xff)))
	})

	It("should refuse writes past the image", func() {
		err := flash.Write(0x3fff, []byte{1, 2})

		Expect(errkind.KindOf(err)).To(Equal(errkind.InvalidArgument))
	})

	It("should stage the image into memory on reset", func() {
		mem := make([]byte, 0x8000)

		mode, err := flash.Reset(mem)

		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(backend.PreferMemory))
		Expect(mem[:5]).To(Equal([]byte("hello")))
		Expect(mem[0x3fff]).To(Equal(byte(0xff)))
		Expect(mem[0x4000]).To(Equal(byte(0)))
	})
})
