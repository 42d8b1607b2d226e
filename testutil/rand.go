package testutil

import (
	"math"
	"math/rand"

	"github.com/google/gofuzz"
	. "github.com/onsi/ginkgo"
)

// RandSource is seeded with ginkgo seed, so failed run can be reproduced with -seed flag.
var RandSource = rand.NewSource(GinkgoRandomSeed())
var Rand = rand.New(RandSource)

// Fuzzer produces finite non negative floats, as render costs and frame numbers are.
var Fuzzer = fuzz.New().RandSource(RandSource).Funcs(
	func(f *float64, c fuzz.Continue) {
		switch c.Intn(4) {
		case 0:
			*f = 0
		case 1:
			*f = float64(c.Intn(1000))
		default:
			*f = math.Abs(c.NormFloat64()) * 10
		}
	},
)

var Fuzz = Fuzzer.Fuzz

// RandFrames returns n distinct whole frames from [0, max) in random order.
func RandFrames(n, max int) []float64 {
	frames := make([]float64, n)
	for i, f := range Rand.Perm(max)[:n] {
		frames[i] = float64(f)
	}
	return frames
}
