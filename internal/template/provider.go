package template

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrNoTemplates 表示模板池为空，无法选取内容。
var ErrNoTemplates = errors.New("no templates available")

// Provider 为预热发送和自动回复提供随机化的邮件内容。
//
// 内置基础模板池，也可通过 Add* 方法在启动时扩充。
type Provider struct {
	mu       sync.Mutex
	random   *rand.Rand
	subjects []string
	bodies   []string
	replies  []string
}

// NewProvider 创建模板提供器。
func NewProvider(random *rand.Rand) *Provider {
	return &Provider{
		random: random,
		subjects: []string{
			"Quick question about next week",
			"Following up on our conversation",
			"Thoughts on the proposal?",
			"Checking in",
			"Notes from this morning",
			"Re: scheduling",
			"One more thing before Friday",
			"Short update",
		},
		bodies: []string{
			"Hi,\n\nJust wanted to check in and see how things are going on your end. Let me know when you have a minute.\n\nBest",
			"Hello,\n\nI was reviewing my notes and wanted to follow up on a couple of points we discussed. Does later this week work for a quick call?\n\nThanks",
			"Hi there,\n\nSharing a short update from our side - everything is moving along as planned. Happy to walk through details whenever convenient.\n\nRegards",
			"Hey,\n\nQuick note to keep the thread going. Nothing urgent, just wanted to stay in touch.\n\nCheers",
			"Hi,\n\nHope your week is going well. I had a thought about the topic from last time and would love your take on it.\n\nBest regards",
		},
		replies: []string{
			"Thanks for reaching out! I'll take a look and get back to you shortly.",
			"Got it, thanks. Let me review and circle back.",
			"Appreciate the update - sounds good to me.",
			"Thanks! Later this week works on my side.",
			"Received, thank you. I'll follow up soon.",
		},
	}
}

// AddTemplate 向发送模板池追加一组主题/正文。
func (p *Provider) AddTemplate(subject, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subject != "" {
		p.subjects = append(p.subjects, subject)
	}
	if body != "" {
		p.bodies = append(p.bodies, body)
	}
}

// Pick 随机选取一组发送内容，返回主题、纯文本正文和 HTML 正文。
func (p *Provider) Pick() (subject, textBody, htmlBody string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.subjects) == 0 || len(p.bodies) == 0 {
		return "", "", "", ErrNoTemplates
	}

	subject = p.subjects[p.random.Intn(len(p.subjects))]
	textBody = p.bodies[p.random.Intn(len(p.bodies))]
	htmlBody = fmt.Sprintf("<p>%s</p>", textBody)
	return subject, textBody, htmlBody, nil
}

// PickReply 随机选取一条回复正文。
func (p *Provider) PickReply() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.replies) == 0 {
		return "", ErrNoTemplates
	}
	return p.replies[p.random.Intn(len(p.replies))], nil
}
