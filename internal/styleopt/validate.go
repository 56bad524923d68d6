package styleopt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/fpang/asset-pipeline/internal/asset"
)

type openBlock struct {
	closer byte
	offset int
}

// validate walks the token stream and rejects structurally broken
// stylesheets: unbalanced blocks and unterminated strings or urls. The
// lexer itself is error-tolerant, so these checks are what turn malformed
// input into a ParseFailed with a location.
func validate(src []byte) error {
	l := css.NewLexer(parse.NewInputBytes(src))
	var stack []openBlock
	offset := 0

	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return parseError(src, offset, err.Error())
			}
			break
		}

		switch tt {
		case css.LeftBraceToken:
			stack = append(stack, openBlock{closer: '}', offset: offset})
		case css.LeftBracketToken:
			stack = append(stack, openBlock{closer: ']', offset: offset})
		case css.LeftParenthesisToken, css.FunctionToken:
			stack = append(stack, openBlock{closer: ')', offset: offset + len(data) - 1})
		case css.RightBraceToken, css.RightBracketToken, css.RightParenthesisToken:
			closer := data[0]
			if len(stack) == 0 || stack[len(stack)-1].closer != closer {
				return parseError(src, offset, fmt.Sprintf("unexpected %q", closer))
			}
			stack = stack[:len(stack)-1]
		case css.BadStringToken:
			return parseError(src, offset, "unterminated string")
		case css.BadURLToken:
			return parseError(src, offset, "malformed url()")
		}
		offset += len(data)
	}

	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return parseError(src, open.offset, fmt.Sprintf("block is never closed, expected %q", open.closer))
	}
	return nil
}

func parseError(src []byte, offset int, msg string) *asset.Error {
	span := spanAt(src, offset)
	return &asset.Error{Kind: asset.ErrParseFailed, Span: &span, Err: fmt.Errorf("%s", msg)}
}

// spanAt converts a byte offset into a 1-based line and column.
func spanAt(src []byte, offset int) asset.Span {
	if offset > len(src) {
		offset = len(src)
	}
	line, col, _ := parse.Position(bytes.NewReader(src), offset)
	return asset.Span{Line: line, Column: col}
}
