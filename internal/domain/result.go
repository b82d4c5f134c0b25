package domain

// ResultKind tags a Result variant.
type ResultKind int

const (
	Unresolved ResultKind = iota
	VideoBytes
	VideoURL
	PhotoURL
)

func (k ResultKind) String() string {
	switch k {
	case VideoBytes:
		return "video_bytes"
	case VideoURL:
		return "video_url"
	case PhotoURL:
		return "photo_url"
	default:
		return "unresolved"
	}
}

// Result is what a resolver chain produced for a link. Only the fields of
// the tagged variant are meaningful.
type Result struct {
	Kind     ResultKind
	Bytes    []byte // VideoBytes
	Filename string // VideoBytes
	URL      string // VideoURL, PhotoURL
	Strategy string // strategy that produced the result
}

func VideoBytesResult(data []byte, filename string) Result {
	return Result{Kind: VideoBytes, Bytes: data, Filename: filename}
}

func VideoURLResult(url string) Result {
	return Result{Kind: VideoURL, URL: url}
}

func PhotoURLResult(url string) Result {
	return Result{Kind: PhotoURL, URL: url}
}

func UnresolvedResult() Result {
	return Result{Kind: Unresolved}
}

// Size returns the byte size of in-memory media, 0 for other variants.
func (r Result) Size() int {
	return len(r.Bytes)
}

// Usable reports whether the result can be delivered.
func (r Result) Usable() bool {
	switch r.Kind {
	case VideoBytes:
		return len(r.Bytes) > 0
	case VideoURL, PhotoURL:
		return r.URL != ""
	default:
		return false
	}
}

// Media converts a usable result into an upload for the chat boundary.
func (r Result) Media() Media {
	if r.Kind == VideoBytes {
		return Media{Bytes: r.Bytes, Filename: r.Filename}
	}
	return Media{URL: r.URL}
}
