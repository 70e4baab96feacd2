package serviceindex

import (
	"fmt"
	"testing"

	"github.com/taskmesh/taskmesh/internal/services"
)

func TestRetrieveRanksByDescription(t *testing.T) {
	idx := New()
	for i := 0; i < 10; i++ {
		idx.Add(services.ServiceDefinition{
			ServiceName: fmt.Sprintf("service_%d", i),
			Description: fmt.Sprintf("handles topic number %d about widgets", i),
		})
	}
	idx.Add(services.ServiceDefinition{
		ServiceName: "service_7",
		Description: "handles topic number 7 about rare gadgets and widgets",
	})

	top := idx.Retrieve("rare gadgets", 5)
	if len(top) != 5 {
		t.Fatalf("got %d results", len(top))
	}
	if top[0].ServiceName != "service_7" {
		t.Fatalf("expected service_7 first, got %s", top[0].ServiceName)
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	idx := New()
	idx.Add(services.ServiceDefinition{ServiceName: "a", Description: "alpha"})
	idx.Add(services.ServiceDefinition{ServiceName: "b", Description: "beta"})
	if idx.Len() != 2 {
		t.Fatalf("got %d", idx.Len())
	}
	idx.Delete("a")
	if idx.Len() != 1 {
		t.Fatalf("got %d", idx.Len())
	}
	for _, d := range idx.Retrieve("alpha", 10) {
		if d.ServiceName == "a" {
			t.Fatal("deleted service still retrievable")
		}
	}
}
