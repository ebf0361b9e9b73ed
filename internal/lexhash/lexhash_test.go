package lexhash

import "testing"

func hashLines(lines []string) Hash {
	var h Hasher
	h.Start()
	for _, line := range lines {
		for i, tok := range []byte(line) {
			h.TokenBlob(i, []byte{tok})
		}
		h.EndLine()
	}
	return h.Finish()
}

func TestWholeHashOrderIndependent(t *testing.T) {
	lines := []string{"alpha", "beta", "gamma"}
	reordered := []string{"gamma", "alpha", "beta"}

	if got, want := hashLines(lines), hashLines(reordered); got != want {
		t.Fatalf("hash changed under line permutation: %#x != %#x", got, want)
	}
}

func TestWholeHashSensitiveToContent(t *testing.T) {
	a := hashLines([]string{"alpha", "beta"})
	b := hashLines([]string{"alpha", "beta-prime"})
	if a == b {
		t.Fatalf("differing scripts hashed identically")
	}
}

func TestCurLineAndLastLine(t *testing.T) {
	var h Hasher
	h.Start()
	h.Text("abc")
	inProgress := h.CurLine()
	h.EndLine()
	if h.LastLine() != inProgress {
		t.Fatalf("LastLine() = %#x, want %#x", h.LastLine(), inProgress)
	}
}
