package sqlfrag

import "testing"

func TestIdentQuoting(t *testing.T) {
	cases := []struct {
		in   Ident
		want string
	}{
		{"kv_store", "`kv_store`"},
		{"weird name", "`weird name`"},
		{"evil`--", "`evil``--`"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("Ident(%q) = %s, want %s", string(c.in), got, c.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(3).String(); got != "?, ?, ?" {
		t.Errorf("Placeholders(3) = %q", got)
	}
	if got := Placeholders(1).String(); got != "?" {
		t.Errorf("Placeholders(1) = %q", got)
	}
	if got := Placeholders(0).String(); got != "" {
		t.Errorf("Placeholders(0) = %q", got)
	}
}

func TestCompose(t *testing.T) {
	got := Compose(SQL("SELECT `value` FROM"), Ident("kv_store"), SQL("WHERE `key` = ?"))
	want := "SELECT `value` FROM `kv_store` WHERE `key` = ?"
	if got != want {
		t.Errorf("Compose = %q, want %q", got, want)
	}
}
