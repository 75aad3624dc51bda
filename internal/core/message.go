package core

// Message 原子任务的提示文案：固定文本或基于上下文的模板，读快照时才求值
type Message struct {
	text string
	tmpl func(Context) (string, error)
}

func Literal(s string) Message {
	return Message{text: s}
}

func Template(fn func(Context) (string, error)) Message {
	return Message{tmpl: fn}
}

func (m Message) IsZero() bool {
	return m.text == "" && m.tmpl == nil
}

// Render 模板出错、panic 或没有上下文时返回空串
func (m Message) Render(data Context) (s string) {
	if m.tmpl == nil {
		return m.text
	}
	if data == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s = ""
		}
	}()
	out, err := m.tmpl(data)
	if err != nil {
		return ""
	}
	return out
}
