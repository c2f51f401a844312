package mhtml

import (
	"fmt"
	"reflect"
	"testing"
)

func TestTag(t *testing.T) {
	if got := Tag("abc"); got != "[MHTML::abc]" {
		t.Errorf("expected %q, got %q", "[MHTML::abc]", got)
	}
	if got := TypedTag("dataref", "12"); got != "[MHTML::dataref::12]" {
		t.Errorf("expected %q, got %q", "[MHTML::dataref::12]", got)
	}
	if got := DataRef(0); got != "[MHTML::dataref::0]" {
		t.Errorf("expected %q, got %q", "[MHTML::dataref::0]", got)
	}
}

func TestRemove_StripsAllTokens(t *testing.T) {
	in := "Drug effect " + DataRef(0) + "was shown" + Tag("x") + "."
	got := Remove(in)
	if got != "Drug effect was shown." {
		t.Errorf("expected %q, got %q", "Drug effect was shown.", got)
	}
}

func TestRemove_LeavesMalformedBrackets(t *testing.T) {
	cases := []string{
		"[MHTML::]",
		"[MHTML::a::]",
		"[OTHER::x]",
		"[MHTML::a:b]",
		"see [1] and [2]",
	}
	for _, in := range cases {
		if got := Remove(in); got != in {
			t.Errorf("expected %q unchanged, got %q", in, got)
		}
	}
}

func TestRemove_Idempotent(t *testing.T) {
	in := "a" + DataRef(3) + "b" + TypedTag("x", "y") + "c"
	once := Remove(in)
	if twice := Remove(once); twice != once {
		t.Errorf("expected idempotent removal, got %q then %q", once, twice)
	}
}

func TestRemove_NestedTokens(t *testing.T) {
	cases := map[string]string{
		"[MHTML::[MHTML::x]y]":                "",
		"a[MHTML::dataref::[MHTML::x]1]b":     "ab",
		"[MHTML::[MHTML::[MHTML::x]y]z] tail": " tail",
		"[MHTML:" + Tag("x") + ":y]":          "",
		"[" + DataRef(2) + "]":                "[]",
	}
	for in, want := range cases {
		once := Remove(in)
		if once != want {
			t.Errorf("Remove(%q): expected %q, got %q", in, want, once)
		}
		if twice := Remove(once); twice != once {
			t.Errorf("Remove(%q): expected idempotent, got %q then %q", in, once, twice)
		}
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	text := Tag("plain") + " mid " + TypedTag("dataref", "7")
	got := Decode(text)
	want := []Token{{Payload: "plain"}, {Type: "dataref", Payload: "7"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestDataRefKeys(t *testing.T) {
	text := "a" + DataRef(2) + "b" + DataRef(10) + Tag("5") + DataRef(2)
	got := DataRefKeys(text)
	want := []int{2, 10, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if keys := DataRefKeys("no tokens"); keys != nil {
		t.Errorf("expected nil keys, got %v", keys)
	}
}

func TestReplaceDataRefs(t *testing.T) {
	in := "see" + DataRef(4) + " and " + Tag("other") + DataRef(7)
	got := ReplaceDataRefs(in, func(k int) string { return fmt.Sprintf("[%d]", k+1) })
	want := "see[5] and " + Tag("other") + "[8]"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestUnescapeExcept(t *testing.T) {
	in := "a &amp; b &lt;i&gt; &#x3B1;"
	got := UnescapeExcept(in, "&lt;", "&gt;")
	want := "a & b &lt;i&gt; α"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := UnescapeExcept("&lt;x&gt;"); got != "<x>" {
		t.Errorf("expected %q, got %q", "<x>", got)
	}
}
