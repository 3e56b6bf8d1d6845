package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore mocks the storage.BlobStore interface.
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if data := args.Get(0); data != nil {
		return data.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if keys := args.Get(0); keys != nil {
		return keys.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBlobStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// PassphrasePrompter is a scripted passphrase source that counts calls.
type PassphrasePrompter struct {
	mu         sync.Mutex
	passphrase string
	err        error
	calls      int
}

// NewPassphrasePrompter answers every prompt with passphrase.
func NewPassphrasePrompter(passphrase string) *PassphrasePrompter {
	return &PassphrasePrompter{passphrase: passphrase}
}

// FailWith makes subsequent prompts return err.
func (p *PassphrasePrompter) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Prompt implements crypto.PassphraseSource.
func (p *PassphrasePrompter) Prompt() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.passphrase, nil
}

// Calls returns how many times Prompt was called.
func (p *PassphrasePrompter) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
