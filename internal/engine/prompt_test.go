package engine

import "testing"

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		context  map[string]interface{}
		want     string
	}{
		{
			name:     "known placeholder",
			template: "Draft the {{period}} report",
			context:  map[string]interface{}{"period": "Q3"},
			want:     "Draft the Q3 report",
		},
		{
			name:     "unknown placeholder left untouched",
			template: "Review {{draft_url}} by {{deadline}}",
			context:  map[string]interface{}{"draft_url": "doc://1"},
			want:     "Review doc://1 by {{deadline}}",
		},
		{
			name:     "non-string values stringified",
			template: "Budget is {{amount}}",
			context:  map[string]interface{}{"amount": 1200},
			want:     "Budget is 1200",
		},
		{
			name:     "no placeholders",
			template: "Just do it",
			context:  map[string]interface{}{"period": "Q3"},
			want:     "Just do it",
		},
		{
			name:     "nil context",
			template: "Hello {{name}}",
			context:  nil,
			want:     "Hello {{name}}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interpolate(tt.template, tt.context); got != tt.want {
				t.Errorf("Interpolate() = %q, want %q", got, tt.want)
			}
		})
	}
}
