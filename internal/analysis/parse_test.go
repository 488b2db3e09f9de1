package analysis

import (
	"errors"
	"testing"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		want    *Result
		wantErr bool
	}{
		{
			name: "chinese keys",
			reply: "分析如下：\n```json\n{\n  \"场景\": \"校园暴力\",\n  \"信息\": \"学生被威胁\",\n" +
				"  \"紧急程度\": \"高\",\n  \"建议行动\": \"立即寻求帮助\"\n}\n```\n",
			want: &Result{Scene: "校园暴力", Summary: "学生被威胁", Urgency: "高", RecommendedAction: "立即寻求帮助"},
		},
		{
			name:  "english keys",
			reply: "```json {\"scene\":\"daily\",\"summary\":\"chat\",\"urgency\":\"low\",\"recommendedAction\":\"none\"} ```",
			want:  &Result{Scene: "daily", Summary: "chat", Urgency: "low", RecommendedAction: "none"},
		},
		{
			name: "first block wins",
			reply: "```json\n{\"scene\":\"a\",\"summary\":\"b\",\"urgency\":\"高\",\"recommendedAction\":\"c\"}\n```\n" +
				"```json\n{\"scene\":\"x\",\"summary\":\"y\",\"urgency\":\"low\",\"recommendedAction\":\"z\"}\n```",
			want: &Result{Scene: "a", Summary: "b", Urgency: "高", RecommendedAction: "c"},
		},
		{
			name:  "null urgency reads empty",
			reply: "```json\n{\"scene\":\"a\",\"summary\":\"b\",\"urgency\":null,\"recommendedAction\":\"c\"}\n```",
			want:  &Result{Scene: "a", Summary: "b", Urgency: "", RecommendedAction: "c"},
		},
		{
			name:  "numeric value formatted",
			reply: "```json\n{\"scene\":\"a\",\"summary\":\"b\",\"urgency\":3,\"recommendedAction\":\"c\"}\n```",
			want:  &Result{Scene: "a", Summary: "b", Urgency: "3", RecommendedAction: "c"},
		},
		{name: "no block", reply: `{"scene":"a","summary":"b","urgency":"高","recommendedAction":"c"}`, wantErr: true},
		{name: "unterminated block", reply: "```json\n{\"scene\":\"a\"}", wantErr: true},
		{name: "invalid json", reply: "```json\n{scene: a}\n```", wantErr: true},
		{name: "array", reply: "```json\n[1,2]\n```", wantErr: true},
		{name: "null", reply: "```json\nnull\n```", wantErr: true},
		{
			name:    "missing urgency",
			reply:   "```json\n{\"scene\":\"a\",\"summary\":\"b\",\"recommendedAction\":\"c\"}\n```",
			wantErr: true,
		},
		{
			name:    "missing chinese action",
			reply:   "```json\n{\"场景\":\"a\",\"信息\":\"b\",\"紧急程度\":\"高\"}\n```",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseReply(tt.reply)
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("err = %v, want *ParseError", err)
				}
				if pe.Reply != tt.reply {
					t.Error("ParseError does not carry the raw reply")
				}
				if got != nil {
					t.Errorf("result = %+v, want nil", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReply: %v", err)
			}
			if *got != *tt.want {
				t.Errorf("result = %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func TestParseReply_NoBlockSentinel(t *testing.T) {
	t.Parallel()
	_, err := ParseReply("plain text")
	if !errors.Is(err, ErrNoJSONBlock) {
		t.Errorf("err = %v, want ErrNoJSONBlock", err)
	}
}

func TestNormalizeUrgency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value, token, want string
	}{
		{"高", "高", UrgencyHigh},
		{"", "高", UrgencyUnknown},
		{"中", "高", "中"},
		{"低", "高", "低"},
		{"medium", "高", "medium"},
		{" 高", "高", " 高"},
		{"High", "high", "High"},
		{"high", "high", UrgencyHigh},
	}
	for _, tt := range tests {
		if got := NormalizeUrgency(tt.value, tt.token); got != tt.want {
			t.Errorf("NormalizeUrgency(%q, %q) = %q, want %q", tt.value, tt.token, got, tt.want)
		}
	}
}
