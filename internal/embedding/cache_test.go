package embedding

import "testing"

func TestVectorCache(t *testing.T) {
	c := NewVectorCache(2)
	a := Document{ID: "a", Text: "walnut bowl"}
	c.Put(a, []float32{1, 0})

	tests := []struct {
		name string
		doc  Document
		want bool
	}{
		{"same text", a, true},
		{"edited text", Document{ID: "a", Text: "walnut bowl, oiled"}, false},
		{"unknown id", Document{ID: "b", Text: "walnut bowl"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := c.Get(tt.doc); ok != tt.want {
				t.Errorf("Get() ok = %v, want %v", ok, tt.want)
			}
		})
	}

	c.Delete("a")
	if _, ok := c.Get(a); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestVectorCache_Capacity(t *testing.T) {
	c := NewVectorCache(2)
	c.Put(Document{ID: "a", Text: "a"}, []float32{1})
	c.Put(Document{ID: "b", Text: "b"}, []float32{1})
	c.Put(Document{ID: "a", Text: "a2"}, []float32{2})
	if c.Len() != 2 {
		t.Fatalf("Len() = %d after overwrite, want 2", c.Len())
	}
	c.Put(Document{ID: "c", Text: "c"}, []float32{1})
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want capped at 2", c.Len())
	}
	if _, ok := c.Get(Document{ID: "c", Text: "c"}); !ok {
		t.Error("newest entry must be kept")
	}

	if NewVectorCache(0).maxEntries != DefaultCacheEntries {
		t.Error("expected default capacity")
	}
}
