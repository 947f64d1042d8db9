package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string]string
	putErr  error
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestKeyLayout(t *testing.T) {
	if got := Key("abc-123"); got != "analysis/abc-123/code.txt" {
		t.Errorf("Key = %q", got)
	}
}

func TestPutFetchRoundTrip(t *testing.T) {
	fake := newFakeS3()
	st := NewS3Store(fake, "smartcode-uploads")
	ctx := context.Background()

	code := strings.Repeat("func main() {}\n", 1000)
	key, err := st.Put(ctx, "abc-123", code)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "analysis/abc-123/code.txt" {
		t.Errorf("key = %q", key)
	}

	got, err := st.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != code {
		t.Errorf("payload changed in round trip (%d vs %d bytes)", len(got), len(code))
	}
}

func TestErrorsWrapErrBlob(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	fake.getErr = errors.New("SlowDown")
	st := NewS3Store(fake, "smartcode-uploads")

	if _, err := st.Put(context.Background(), "x", "code"); !errors.Is(err, ErrBlob) {
		t.Errorf("Put err = %v, want ErrBlob", err)
	}
	if _, err := st.Fetch(context.Background(), "analysis/x/code.txt"); !errors.Is(err, ErrBlob) {
		t.Errorf("Fetch err = %v, want ErrBlob", err)
	}
}
