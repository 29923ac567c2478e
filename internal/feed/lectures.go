package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/korean"

	"roomcheck/internal/model"
)

// UnnamedLecture is used for Lecture elements without a Name.
const UnnamedLecture = "이름 없는 강의"

type lectureElement struct {
	Name string `xml:"Name"`
	Time string `xml:"Time"`
	Room string `xml:"Room"`
}

// DecodeLectures reads a <Lectures><Lecture>…</Lecture></Lectures> document.
//
// Lecture elements with neither a Time nor a Room are skipped as
// *ParseError. When the document itself is broken, the lectures read before
// the damage are returned together with the error. All per-record errors are
// joined into the returned error.
func DecodeLectures(r io.Reader) ([]model.LectureRecord, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	var (
		out   []model.LectureRecord
		errs  []error
		index int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, &ParseError{Kind: "lecture", Index: -1, Detail: fmt.Sprintf("document broken after %d lectures", index), Err: err})
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Lecture" {
			continue
		}

		var el lectureElement
		if err := dec.DecodeElement(&el, &se); err != nil {
			errs = append(errs, &ParseError{Kind: "lecture", Index: index, Err: err})
			break
		}
		rec := model.LectureRecord{
			Name: strings.TrimSpace(el.Name),
			Time: strings.TrimSpace(el.Time),
			Room: strings.TrimSpace(el.Room),
		}
		if rec.Name == "" {
			rec.Name = UnnamedLecture
		}
		if rec.Time == "" && rec.Room == "" {
			errs = append(errs, &ParseError{Kind: "lecture", Index: index, Detail: fmt.Sprintf("%q has no time and no room", rec.Name)})
		} else {
			out = append(out, rec)
		}
		index++
	}
	return out, errors.Join(errs...)
}

// DecodeLecturesBytes is DecodeLectures over an in-memory body.
func DecodeLecturesBytes(body []byte) ([]model.LectureRecord, error) {
	return DecodeLectures(bytes.NewReader(body))
}

// charsetReader accepts the legacy Korean encodings some exports declare.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "euc-kr", "euckr", "cp949", "ks_c_5601-1987", "x-windows-949":
		return korean.EUCKR.NewDecoder().Reader(input), nil
	case "utf-8", "utf8", "":
		return input, nil
	}
	return nil, fmt.Errorf("feed: unsupported charset %q", label)
}
