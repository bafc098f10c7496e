package ordmap

import "testing"

func intLess(a, b int) bool { return a < b }

func TestInsertFindRemove(t *testing.T) {
	tr := New[int, string](intLess)

	if replaced := tr.Insert(5, "five"); replaced {
		t.Fatalf("expected first insert to report replaced=false")
	}
	if v, ok := tr.Find(5); !ok || v != "five" {
		t.Fatalf("Find(5) = %q, %v", v, ok)
	}
	if replaced := tr.Insert(5, "FIVE"); !replaced {
		t.Fatalf("expected second insert of same key to report replaced=true")
	}
	if v, _ := tr.Find(5); v != "FIVE" {
		t.Fatalf("Insert did not overwrite value, got %q", v)
	}

	if _, ok := tr.Find(99); ok {
		t.Fatalf("Find(99) should miss")
	}

	if v, ok := tr.Remove(5); !ok || v != "FIVE" {
		t.Fatalf("Remove(5) = %q, %v", v, ok)
	}
	if _, ok := tr.Find(5); ok {
		t.Fatalf("Find(5) should miss after Remove")
	}
}

func TestEachAscendingOrder(t *testing.T) {
	tr := New[int, int](intLess)
	values := []int{5, 1, 4, 2, 3}
	for _, v := range values {
		tr.Insert(v, v*10)
	}

	var got []int
	tr.Each(func(key int, value int) bool {
		got = append(got, key)
		return true
	})
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFirst(t *testing.T) {
	tr := New[int, string](intLess)
	if _, _, ok := tr.First(); ok {
		t.Fatalf("First() on empty tree should miss")
	}
	tr.Insert(3, "c")
	tr.Insert(1, "a")
	tr.Insert(2, "b")
	k, v, ok := tr.First()
	if !ok || k != 1 || v != "a" {
		t.Fatalf("First() = %d, %q, %v; want 1, a, true", k, v, ok)
	}
}

func TestLen(t *testing.T) {
	tr := New[int, int](intLess)
	if tr.Len() != 0 {
		t.Fatalf("expected empty tree to have Len 0")
	}
	for i := 0; i < 10; i++ {
		tr.Insert(i, i)
	}
	if tr.Len() != 10 {
		t.Fatalf("got Len %d, want 10", tr.Len())
	}
}

func TestDestroyWithCookie(t *testing.T) {
	tr := New[int, int](intLess)
	for i := 0; i < 5; i++ {
		tr.Insert(i, i*i)
	}
	var drained []int
	tr.DestroyWithCookie(func(key int, value int) {
		drained = append(drained, key)
	})
	if tr.Len() != 0 {
		t.Fatalf("tree should be empty after DestroyWithCookie")
	}
	if len(drained) != 5 {
		t.Fatalf("expected 5 entries drained, got %d", len(drained))
	}
}
