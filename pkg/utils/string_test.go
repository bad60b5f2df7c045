package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("GET /users/42", 50)).To(Equal("GET /users/42"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		result := Truncate("net/http GET http://api.internal/very/long/path", 20)
		Expect(result).To(Equal("net/http GET http://..."))
	})

	It("never splits a multibyte rune", func() {
		result := Truncate("GET /städte/münchen/einwohner", 14)
		Expect(result).To(Equal("GET /städte/mü..."))
	})

	It("returns empty for a non-positive limit", func() {
		Expect(Truncate("anything", 0)).To(Equal(""))
	})
})
