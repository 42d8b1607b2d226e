package cache

import (
	. "github.com/onsi/ginkgo"
	"github.com/stretchr/testify/mock"
)

type MockBuffer struct {
	mock.Mock
	name string
}

var _ Buffer = (*MockBuffer)(nil)

func NewMockBuffer(name string, size int64) *MockBuffer {
	b := &MockBuffer{name: name}
	b.On("Size").Return(size).Maybe()
	return b
}

func (b *MockBuffer) Ref() {
	By("Ref " + b.name)
	b.Called()
}

func (b *MockBuffer) Release() {
	By("Release " + b.name)
	b.Called()
}

func (b *MockBuffer) Size() int64 {
	return b.Called().Get(0).(int64)
}
