package theme

import (
	"fmt"
	"io"
)

// Banner is the heading of the root help text.
func Banner() string {
	return "" +
		"  ┌─┐─┐ ┬ tweetgraph\n" +
		"  └─┐┌┴┬┘ users, tweets and follow graphs\n" +
		"  └─┘┴ └─ kept as history in SQL\n"
}

func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
