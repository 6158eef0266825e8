package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeLister struct {
	ids []string
	err error
}

func (f fakeLister) ListModels(context.Context) (openai.ModelsList, error) {
	var l openai.ModelsList
	for _, id := range f.ids {
		l.Models = append(l.Models, openai.Model{ID: id})
	}
	return l, f.err
}

func TestHasModel(t *testing.T) {
	ok, err := HasModel(context.Background(), fakeLister{ids: []string{"a", "vision-1"}}, "vision-1")
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	ok, err = HasModel(context.Background(), fakeLister{ids: []string{"a"}}, "vision-1")
	if err != nil || ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	if _, err := HasModel(context.Background(), fakeLister{err: errors.New("down")}, "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenAIProvider_ListModelsAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"ocr-vision","object":"model"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1", "k", srv.Client())
	ok, err := HasModel(context.Background(), p, "ocr-vision")
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
}
