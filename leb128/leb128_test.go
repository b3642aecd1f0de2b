package leb128

import "testing"

func TestUint(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint64
		n    int
	}{
		{[]byte{0xE5, 0x8E, 0x26}, 624485, 3},
		{[]byte{0x7F}, 127, 1},
	}
	for _, c := range cases {
		got, n, err := Uint(c.in)
		if err != nil {
			t.Fatalf("Uint(%x): %v", c.in, err)
		}
		if got != c.want || n != c.n {
			t.Errorf("Uint(%x) = %d,%d want %d,%d", c.in, got, n, c.want, c.n)
		}
	}
}

func TestUintOverflow(t *testing.T) {
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x80
	}
	buf[10] = 0x00
	if _, _, err := Uint(buf); err != ErrOverflow {
		t.Fatalf("want ErrOverflow, got %v", err)
	}
}

func TestInt(t *testing.T) {
	cases := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0xC7, 0x9F, 0x7F}, -12345},
		{[]byte{0x7F}, -1},
		{[]byte{0x9C, 0x7F}, -100},
	}
	for _, c := range cases {
		got, _, err := Int(c.in)
		if err != nil {
			t.Fatalf("Int(%x): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Int(%x) = %d want %d", c.in, got, c.want)
		}
	}
}
