package tmux

import "testing"

func TestFieldsAcceptsEverySeparator(t *testing.T) {
	for name, line := range map[string]string{
		"unit":    "proj" + fieldSep + "/dev/ttys001",
		"tab":     "proj\t/dev/ttys001",
		"escaped": `proj\t/dev/ttys001`,
	} {
		parts := fields(line, 2)
		if len(parts) != 2 || parts[0] != "proj" || parts[1] != "/dev/ttys001" {
			t.Fatalf("%s: unexpected parts %#v", name, parts)
		}
	}
	if parts := fields("my_session", 2); len(parts) != 1 {
		t.Fatalf("plain line must not split, got %#v", parts)
	}
	if fields("x", 0) != nil {
		t.Fatalf("expected nil for n <= 0")
	}
}

func TestFormatAndExactSession(t *testing.T) {
	if got := format("#{a}", "#{b}"); got != "#{a}\x1f#{b}" {
		t.Fatalf("unexpected format %q", got)
	}
	if ExactSession("proj") != "=proj" {
		t.Fatalf("unexpected exact target")
	}
}
