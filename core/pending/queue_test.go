package pending

import "testing"

func TestPutTake_RoundTrip(t *testing.T) {
	q := New()
	q.Put("D", Entry{Origin: "O", Payload: "hello"})
	e, ok := q.Take("D")
	if !ok {
		t.Fatal("expected entry")
	}
	if e.Origin != "O" || e.Payload != "hello" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if _, ok := q.Take("D"); ok {
		t.Fatal("expected entry to be consumed by Take")
	}
}

func TestPut_OverwritesNotQueues(t *testing.T) {
	q := New()
	q.Put("D", Entry{Origin: "O", Payload: "first"})
	q.Put("D", Entry{Origin: "O", Payload: "second"})
	if q.Len() != 1 {
		t.Fatalf("expected single slot per destination, got %d entries", q.Len())
	}
	e, _ := q.Take("D")
	if e.Payload != "second" {
		t.Fatalf("expected newest payload to win, got %q", e.Payload)
	}
}

func TestPeek_DoesNotRemove(t *testing.T) {
	q := New()
	q.Put("D", Entry{Origin: "O", Payload: "x"})
	if _, ok := q.Peek("D"); !ok {
		t.Fatal("expected peek to find entry")
	}
	if _, ok := q.Take("D"); !ok {
		t.Fatal("peek must not remove the entry")
	}
}

func TestDestinations_ListsAllPending(t *testing.T) {
	q := New()
	q.Put("A", Entry{Origin: "O", Payload: "a"})
	q.Put("B", Entry{Origin: "O", Payload: "b"})
	dests := q.Destinations()
	if len(dests) != 2 {
		t.Fatalf("expected 2 destinations, got %d: %v", len(dests), dests)
	}
}
