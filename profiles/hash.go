package profiles

import (
	"crypto/sha256"
	"hash"
)

type sha256Hash struct {
	h hash.Hash
}

func newSHA256Hash() *sha256Hash { return &sha256Hash{h: sha256.New()} }

func (s *sha256Hash) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *sha256Hash) Sum() []byte                 { return s.h.Sum(nil) }
func (s *sha256Hash) Size() int                   { return s.h.Size() }
