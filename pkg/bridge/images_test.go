package bridge

import (
	"errors"
	"strings"
	"testing"
)

func TestCollectImageURLs(t *testing.T) {
	body := strings.Join([]string{
		`{"result":{"response":{"token":"Generating"}}}`,
		`{"result":{"response":{"modelResponse":{"message":"done","generatedImageUrls":["https://assets.grok.com/a.jpg","https://assets.grok.com/b.jpg"]}}}}`,
	}, "\n")

	urls, err := CollectImageURLs(strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://assets.grok.com/a.jpg" {
		t.Fatalf("urls = %v", urls)
	}
}

func TestCollectImageURLsErrorAborts(t *testing.T) {
	body := `{"error":{"message":"content flagged","code":3}}`

	_, err := CollectImageURLs(strings.NewReader(body))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if !strings.Contains(protoErr.Message, "content flagged") {
		t.Errorf("message = %q", protoErr.Message)
	}
}

func TestCollectImageURLsEmptyStream(t *testing.T) {
	urls, err := CollectImageURLs(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("urls = %v, want none", urls)
	}
}
