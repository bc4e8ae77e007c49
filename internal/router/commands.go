package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"predictbot/internal/dispatch"
	"predictbot/internal/transport"
)

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "start", Description: "Информация о боте.", Handle: r.cmdStart},
		{Name: "help", Description: "Показать это сообщение.", Handle: r.cmdHelp},
		{Name: "ping", Description: "Проверить, что я жив.", Handle: r.cmdPing},
		{Name: "list_users", Description: "Показать список пользователей, для которых будут отправляться предсказания.", Access: AccessAdmin, Handle: r.cmdListUsers},
		{Name: "force_send", Description: "Принудительно запустить рассылку (для теста).", Access: AccessAdmin, Handle: r.cmdForceSend},
		{Name: "testchannel", Access: AccessTargetChat, Handle: r.cmdTestChannel},
	}
}

func firstName(s *transport.Sender) string {
	if s == nil || s.FirstName == "" {
		return "друг"
	}
	return s.FirstName
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	info := r.deps.Info()
	tz := info.Timezone
	if tz == "" {
		tz = "UTC"
	}
	text := fmt.Sprintf(
		"Привет, %s! Я бот предсказаний для канала (ID: %d).\n"+
			"Предсказания отправляются активным участникам этого канала ежедневно в %02d:%02d (%s).\n"+
			"Чтобы получать предсказания, просто будьте участником указанного канала и проявляйте там активность (пишите сообщения). "+
			"Ваши данные (ID, имя, юзернейм) будут сохранены для этой цели.",
		firstName(req.From), info.TargetChatID, info.Hour, info.Minute, tz,
	)
	return r.reply(ctx, req, text)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Я бот для отправки ежедневных предсказаний в канал.\n")
	b.WriteString("Предсказания получают пользователи, которые пишут сообщения в целевом канале.\n\n")
	b.WriteString("Команды (в личных сообщениях со мной):\n")
	var admin []Command
	for _, name := range r.order {
		c := r.commands[name]
		switch c.Access {
		case AccessEveryone:
			fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
		case AccessAdmin:
			admin = append(admin, c)
		}
	}
	if isAdmin(r.deps.Info(), req.FromID) && len(admin) > 0 {
		b.WriteString("\nКоманды администратора:\n")
		for _, c := range admin {
			fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
		}
	}
	return r.reply(ctx, req, b.String())
}

func (r *Router) cmdPing(ctx context.Context, req *Request) error {
	return r.reply(ctx, req, fmt.Sprintf("Pong! Привет, %s! Я жив.", firstName(req.From)))
}

func (r *Router) cmdListUsers(ctx context.Context, req *Request) error {
	r.deps.Users.Reload(ctx)
	users := r.deps.Users.Sorted()
	if len(users) == 0 {
		return r.reply(ctx, req, "Список отслеживаемых пользователей пуст (никто еще не писал в целевом канале, либо файл не загружен).")
	}

	var b strings.Builder
	b.WriteString("Пользователи, для которых будут отправляться предсказания:\n")
	for _, u := range users {
		fmt.Fprintf(&b, "- %s (ID: %d)\n", dispatch.DisplayName(u), u.ID)
	}
	for _, chunk := range transport.SplitText(b.String(), transport.TextLimit) {
		if err := r.reply(ctx, req, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) cmdForceSend(ctx context.Context, req *Request) error {
	if r.deps.Info().TargetChatID == 0 {
		return r.reply(ctx, req, "Целевой канал не установлен. Не могу запустить рассылку.")
	}
	if r.deps.Engine.Running() {
		return r.reply(ctx, req, "Рассылка уже идёт, дождитесь её завершения.")
	}
	if err := r.reply(ctx, req, "Принудительный запуск рассылки предсказаний..."); err != nil {
		return err
	}

	chat := req.Chat
	r.deps.Spawn("dispatch.manual", func(bg context.Context) {
		rep, err := r.deps.Engine.Run(bg, "manual")
		text := Summary(rep)
		if errors.Is(err, dispatch.ErrRunInProgress) {
			text = "Рассылка уже идёт, дождитесь её завершения."
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(bg), 30*time.Second)
		defer cancel()
		_, _ = r.deps.Sender.SendText(sctx, chat, text, nil)
	})
	return nil
}

func (r *Router) cmdTestChannel(ctx context.Context, req *Request) error {
	text := fmt.Sprintf("Тестовая команда из чата %d получена!", req.Chat.ChatID)
	if req.FromID != 0 {
		text += fmt.Sprintf(" ID пользователя: %d", req.FromID)
	}
	return r.reply(ctx, req, text)
}

// Summary renders a run report for the administrator.
func Summary(rep dispatch.Report) string {
	switch rep.Outcome {
	case dispatch.OutcomeNoTarget:
		return "Рассылка не выполнена: целевой канал не установлен."
	case dispatch.OutcomeEmptyPool:
		return "Рассылка не выполнена: список предсказаний пуст."
	case dispatch.OutcomeNoUsers:
		return "Рассылка не выполнена: нет известных пользователей."
	}
	return fmt.Sprintf(
		"Рассылка завершена (%s): отправлено %d из %d, удалено %d, ошибок %d, без предсказания %d. Заняло %s.",
		rep.Outcome, rep.Sent, rep.Candidates, rep.Pruned, rep.Failed, rep.Unserved, rep.Duration().Round(time.Second),
	)
}
