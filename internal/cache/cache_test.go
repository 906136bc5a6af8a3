package cache

import (
	"strconv"
	"sync"
	"testing"
)

func TestLRU_GetSet(t *testing.T) {
	c := New[string, []int](2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []int{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []int{4, 5})
	c.Set("c", []int{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c := New[int, string](2)
	c.Set(1, "uno")
	c.Set(2, "dos")
	c.Get(1)
	c.Set(3, "tres") // evicts 2, not 1
	if _, ok := c.Get(1); !ok {
		t.Error("expected 1 to remain after being read")
	}
	if _, ok := c.Get(2); ok {
		t.Error("expected 2 to be evicted")
	}
}

func TestLRU_UpdateAndPurge(t *testing.T) {
	c := New[string, int](4)
	c.Set("x", 1)
	c.Set("x", 2)
	if v, _ := c.Get("x"); v != 2 {
		t.Errorf("updated value = %d", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after Purge = %d", c.Len())
	}
	if _, ok := c.Get("x"); ok {
		t.Error("expected miss after Purge")
	}
}

func TestLRU_Disabled(t *testing.T) {
	c := New[string, int](0)
	c.Set("x", 1)
	if _, ok := c.Get("x"); ok {
		t.Error("zero-capacity cache must not store")
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := strconv.Itoa((g * i) % 40)
				c.Set(k, i)
				c.Get(k)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
