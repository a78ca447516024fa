package inference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const (
	Prompt  = "Enter text to analyze ('quit' to exit): "
	Goodbye = "Thanks for using sentilab, goodbye!"
)

// Classifier 把文本转换为分类结果
type Classifier interface {
	Classify(text string) Result
}

// RunInteractive 逐行读取输入直到"quit"、EOF或ctx结束，每行的结果写到out。
// 行长度不设上限，超长输入由Classify返回长度错误。
func RunInteractive(ctx context.Context, in io.Reader, out io.Writer, classifier Classifier) error {
	reader := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(out, Prompt)
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			fmt.Fprintln(out)
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.EqualFold(strings.TrimSpace(line), "quit") {
			fmt.Fprintln(out, Goodbye)
			return nil
		}
		res := classifier.Classify(line)
		fmt.Fprintf(out, "\n%s\n\n", res.Message())
	}
}
