package pipeline

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ttmlToLRC converts backend TTML lyrics into LRC lines. Paragraphs without
// timing are emitted as plain lines, which is how unsynced lyrics arrive.
func ttmlToLRC(ttml string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(ttml))
	var (
		lines  []string
		inPara bool
		begin  string
		text   strings.Builder
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse ttml: %w", err)
		}
		switch tok := token.(type) {
		case xml.StartElement:
			if tok.Name.Local == "p" {
				inPara = true
				begin = attrValue(tok, "begin")
				text.Reset()
			}
		case xml.CharData:
			if inPara {
				text.Write(tok)
			}
		case xml.EndElement:
			if tok.Name.Local != "p" || !inPara {
				continue
			}
			inPara = false
			line := strings.Join(strings.Fields(text.String()), " ")
			if stamp, ok := lrcTimestamp(begin); ok {
				line = stamp + line
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func attrValue(el xml.StartElement, name string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == name {
			return strings.TrimSpace(attr.Value)
		}
	}
	return ""
}

// lrcTimestamp renders a TTML clock value ("12.5", "1:02.345", "1:02:03.4")
// as an LRC [mm:ss.xx] tag. Hours fold into minutes.
func lrcTimestamp(clock string) (string, bool) {
	if clock == "" {
		return "", false
	}
	parts := strings.Split(clock, ":")
	if len(parts) > 3 {
		return "", false
	}
	seconds, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || seconds < 0 {
		return "", false
	}
	minutes := 0
	scale := 1
	for i := len(parts) - 2; i >= 0; i-- {
		value, err := strconv.Atoi(parts[i])
		if err != nil || value < 0 {
			return "", false
		}
		minutes += value * scale
		scale *= 60
	}
	millis := int(seconds*1000 + 0.5)
	minutes += millis / 60000
	millis %= 60000
	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, millis/1000, (millis%1000)/10), true
}
