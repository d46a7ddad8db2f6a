package main

import (
	"fmt"
	"time"

	pb "gopkg.in/cheggaaa/pb.v1"

	"tilearchive/internal/fetch"
)

// progressBar renders fetch.Progress. A new bar starts with every Fetch
// call, detected by the first completion.
type progressBar struct {
	prefix string
	bar    *pb.ProgressBar
}

func newProgressBar(source string) *progressBar {
	return &progressBar{prefix: fmt.Sprintf("%s gap-fill: ", source)}
}

func (p *progressBar) update(pr fetch.Progress) {
	if p.bar == nil || pr.Completed == 1 {
		p.finish()
		p.bar = pb.New(pr.Total).Prefix(p.prefix)
		p.bar.SetRefreshRate(time.Second)
		p.bar.Start()
	}
	p.bar.Set(pr.Completed)
	if pr.Completed == pr.Total {
		p.finish()
	}
}

func (p *progressBar) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
