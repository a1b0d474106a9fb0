package office

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"aiinsight/pkg/contract"
)

const maxXMLDepth = 256

var errDocumentTooLarge = errors.New("word/document.xml exceeds size limit")

// readDocument 解析 word/document.xml，返回正文段落（含空段落）。
// 仅收集 body 直接子段落；表格与文本框内的段落不计入。
func readDocument(data []byte, maxBytes int64) (contract.TextDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return contract.TextDocument{}, fmt.Errorf("open zip: %w", err)
	}
	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return contract.TextDocument{}, errors.New("word/document.xml not found in archive")
	}
	rc, err := docFile.Open()
	if err != nil {
		return contract.TextDocument{}, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(&capReader{r: rc, left: maxBytes})
	var (
		paras   []string
		stack   []string
		cur     strings.Builder
		inPara  bool
		inText  bool
		skipped int // 位于 txbxContent 内的层数
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return contract.TextDocument{}, fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			stack = append(stack, t.Name.Local)
			if len(stack) > maxXMLDepth {
				return contract.TextDocument{}, fmt.Errorf("xml nesting depth exceeds %d", maxXMLDepth)
			}
			switch t.Name.Local {
			case "p":
				if parent == "body" {
					inPara = true
					cur.Reset()
				}
			case "txbxContent":
				skipped++
			case "t":
				inText = inPara && skipped == 0
			case "tab":
				if inPara && skipped == 0 && parent == "r" {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara && skipped == 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "txbxContent":
				skipped--
			case "p":
				if inPara && len(stack) > 0 && stack[len(stack)-1] == "body" {
					paras = append(paras, nfc(cur.String()))
					inPara = false
				}
			}
		}
	}
	return contract.TextDocument{Paragraphs: paras}, nil
}

// capReader 在读取超过 left 字节时返回 errDocumentTooLarge。
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		var one [1]byte
		n, err := c.r.Read(one[:])
		if n > 0 {
			return 0, errDocumentTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}
