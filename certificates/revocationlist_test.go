package certificates

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRevocationListMergeAndReplace(t *testing.T) {
	list := NewRevocationList()
	assert.False(t, list.SerialNumberRevoked("a1"))

	list.Merge([]string{"a1", "b2"})
	assert.True(t, list.SerialNumberRevoked("a1"))
	assert.True(t, list.SerialNumberRevoked("b2"))
	assert.Equal(t, 2, list.Len())

	// Merge keeps previously revoked serials.
	list.Merge([]string{"c3"})
	assert.True(t, list.SerialNumberRevoked("a1"))
	assert.True(t, list.SerialNumberRevoked("c3"))

	list.Replace([]string{"d4"})
	assert.False(t, list.SerialNumberRevoked("a1"))
	assert.True(t, list.SerialNumberRevoked("d4"))
	assert.Equal(t, 1, list.Len())
}

func TestRevocationListConcurrentReaders(t *testing.T) {
	list := NewRevocationList()
	list.Merge([]string{"stable"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// A serial observed once must stay revoked across
				// unrelated updates.
				if !list.SerialNumberRevoked("stable") {
					t.Error("stable serial dropped during update")
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		list.Merge([]string{fmt.Sprintf("s%d", i)})
	}
	close(stop)
	wg.Wait()
	assert.True(t, list.SerialNumberRevoked("s999"))
}
