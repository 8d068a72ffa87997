package danmu

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"
)

// xmlWriter appends Messages to a bilibili/niconico-style danmu XML
// file, the format DanmakuFactoryProcessor expects as input: a single
// root element wrapping one <d> per message, its "p" attribute packing
// time/mode/size/color/timestamp.
type xmlWriter struct {
	f *os.File
	w *bufio.Writer
}

func newXMLWriter(path string) (*xmlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("danmu: creating xml output %q: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(xml.Header); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := w.WriteString("<i>\n"); err != nil {
		f.Close()
		return nil, err
	}
	return &xmlWriter{f: f, w: w}, nil
}

type danmuElement struct {
	XMLName xml.Name `xml:"d"`
	P       string   `xml:"p,attr"`
	Text    string   `xml:",chardata"`
}

func (w *xmlWriter) write(m Message) error {
	elem := danmuElement{
		P:    fmt.Sprintf("%.3f,%d,%d,%d,%d,0,0,0", m.Time.Seconds(), m.Mode, m.Size, m.Color, m.Sent.UnixMilli()),
		Text: m.Text,
	}
	b, err := xml.Marshal(elem)
	if err != nil {
		return fmt.Errorf("danmu: encoding message: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	_, err = w.w.WriteString("\n")
	return err
}

func (w *xmlWriter) close() error {
	if _, err := w.w.WriteString("</i>\n"); err != nil {
		w.f.Close()
		return err
	}
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
