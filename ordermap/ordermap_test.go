package ordermap

import "testing"

func TestMapSetGetDelete(t *testing.T) {
	m := New[string, int](func(a, b string) bool { return a < b })

	m.Set("b", 2)
	m.Set("a", 1)
	m.Set("c", 3)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if m.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", m.Len())
	}

	var order []string
	m.Ascend(func(key string, val int) bool {
		order = append(order, key)
		return true
	})
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if order[i] != k {
			t.Fatalf("Ascend order[%d] = %q; want %q", i, order[i], k)
		}
	}

	if !m.Delete("b") {
		t.Fatalf("Delete(b) = false; want true")
	}
	if _, ok := m.Get("b"); ok {
		t.Fatalf("Get(b) after delete: ok = true; want false")
	}
}

func TestMACKeyOrdering(t *testing.T) {
	m := New[MACKey, string](LessMACKey)
	m.Set(NewMACKey([]byte{0, 0, 0, 0, 0, 2}), "second")
	m.Set(NewMACKey([]byte{0, 0, 0, 0, 0, 1}), "first")

	key, val, ok := m.Min()
	if !ok || val != "first" {
		t.Fatalf("Min() = %v, %q, %v; want _, \"first\", true", key, val, ok)
	}
}
