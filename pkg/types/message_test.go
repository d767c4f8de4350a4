package types

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "user", want: RoleUser},
		{in: "assistant", want: RoleAssistant},
		{in: "system", want: RoleSystem},
		{in: "summary", want: RoleSummary},
		{in: "system_summary", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSessionSummary(t *testing.T) {
	s := &Session{History: []*Message{NewSummaryMessage("earlier"), NewUserMessage("hi")}}
	if got := s.Summary(); got == nil || got.Content != "earlier" {
		t.Errorf("Summary() = %+v, want leading summary", got)
	}

	s = &Session{History: []*Message{NewUserMessage("hi")}}
	if s.Summary() != nil {
		t.Error("Summary() should be nil without a leading summary message")
	}
}

func TestGenerationParamsWithTemperature(t *testing.T) {
	p := DefaultGenerationParams()
	hot := p.WithTemperature(0.45)
	if hot.Temperature != 0.45 {
		t.Errorf("Temperature = %v, want 0.45", hot.Temperature)
	}
	if p.Temperature != 0.5 {
		t.Error("WithTemperature must not modify the receiver")
	}
}
