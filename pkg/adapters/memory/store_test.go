package memory_test

import (
	"testing"

	"github.com/aretw0/threadline/pkg/adapters/memory"
	"github.com/aretw0/threadline/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStateStoreContract(t, store)
}
