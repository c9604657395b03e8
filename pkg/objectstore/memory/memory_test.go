package memory_test

import (
	"testing"

	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/objectstore/memory"
	"github.com/pgbasebackup/agent/pkg/objectstore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func() objectstore.Store {
		return memory.New()
	})
}
