package llm

import "testing"

func TestSanitizeAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain answer untouched",
			in:   "Zebras graze at dawn [1].",
			want: "Zebras graze at dawn [1].",
		},
		{
			name: "reasoning block removed",
			in:   "<think>the context mentions dawn grazing</think>Zebras graze at dawn [1].",
			want: "Zebras graze at dawn [1].",
		},
		{
			name: "block in the middle keeps both sides",
			in:   "Per the context <think>chunk 2 covers this</think> zebras migrate in autumn.",
			want: "Per the context  zebras migrate in autumn.",
		},
		{
			name: "several blocks",
			in:   "<think>a</think>First.<think>b</think> Second.",
			want: "First. Second.",
		},
		{
			name: "unterminated block swallows the tail",
			in:   "The answer is [2]. <think>wait, re-checking chunk",
			want: "The answer is [2].",
		},
		{
			name: "thinking variant",
			in:   "<thinking>long deliberation</thinking>Short answer.",
			want: "Short answer.",
		},
		{
			name: "whitespace trimmed after stripping",
			in:   "\n  <think>only thoughts</think>  \n",
			want: "",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAnswer(tt.in); got != tt.want {
				t.Errorf("SanitizeAnswer(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
