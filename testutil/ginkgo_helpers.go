package testutil

import (
	"bytes"
	"fmt"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// Byf is By with formatting. Step is also printed to GinkgoWriter.
func Byf(format string, args ...interface{}) {
	By(fmt.Sprintf(format, args...))
	fmt.Fprintln(GinkgoWriter)
}

// diffWindow is number of bytes printed around first difference.
const diffWindow = 64

// ExpectBytesEqual compares frame sized byte slices. Unlike Equal it prints only
// the window around first difference.
func ExpectBytesEqual(actual, expected []byte) {
	ExpectBytesEqualWithOffset(1, actual, expected)
}

func ExpectBytesEqualWithOffset(off int, actual, expected []byte) {
	off++
	if bytes.Equal(actual, expected) {
		return
	}
	ExpectWithOffset(off, len(actual)).To(Equal(len(expected)), "Lengths differ.")
	i := 0
	for actual[i] == expected[i] {
		i++
	}
	from, to := i-diffWindow/2, i+diffWindow/2
	if from < 0 {
		from = 0
	}
	if to > len(actual) {
		to = len(actual)
	}
	ExpectWithOffset(off, actual[from:to]).To(Equal(expected[from:to]), "First difference at byte %v.", i)
}

// TmpFileName returns path, where test can create file. Caller should remove it.
func TmpFileName() string {
	f, err := os.CreateTemp("", "seqcache_test_")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	name := f.Name()
	ExpectWithOffset(1, f.Close()).To(Succeed())
	ExpectWithOffset(1, os.Remove(name)).To(Succeed())
	return name
}
