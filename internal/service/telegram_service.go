package service

import (
	"fmt"
	"strings"
	"time"

	"reservas/internal/domain"
	"reservas/internal/events"
	"reservas/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const parseModeMarkdown = "Markdown"

// TelegramService formats and delivers reservation notices to owners that
// linked a Telegram chat.
type TelegramService struct {
	bot domain.TelegramSender
	loc *time.Location
}

func NewTelegramService(bot domain.TelegramSender, loc *time.Location) *TelegramService {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramService{
		bot: bot,
		loc: loc,
	}
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return s.bot.Send(msg)
}

func (s *TelegramService) SendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseModeMarkdown
	return s.bot.Send(msg)
}

// NotifyReservation sends the created/cancelled notice. Owners without a
// chat id are skipped silently.
func (s *TelegramService) NotifyReservation(eventType string, p events.ReservationEventPayload) error {
	if p.OwnerChatID == 0 {
		return nil
	}
	if _, err := s.SendMarkdown(p.OwnerChatID, FormatReservationNotice(eventType, p.ReservationRow, s.loc)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", p.OwnerChatID, err)
	}
	return nil
}

// SendReminder tells the owner about a reservation happening tomorrow.
func (s *TelegramService) SendReminder(chatID int64, row models.ReservationRow) error {
	if chatID == 0 {
		return nil
	}
	text := "⏰ *Recordatorio*: mañana tienes una reserva.\n\n" + reservationDetails(row, s.loc)
	if _, err := s.SendMarkdown(chatID, text); err != nil {
		return fmt.Errorf("telegram reminder to %d: %w", chatID, err)
	}
	return nil
}

// FormatReservationNotice renders the message body shared by the Telegram
// notice and the broker payload.
func FormatReservationNotice(eventType string, row models.ReservationRow, loc *time.Location) string {
	var header string
	switch eventType {
	case events.EventReservationCreated:
		header = "✅ *Reserva confirmada*"
	case events.EventReservationCancelled:
		header = "❌ *Reserva cancelada*"
	default:
		header = "ℹ️ *Reserva actualizada*"
	}
	return header + "\n\n" + reservationDetails(row, loc)
}

func reservationDetails(row models.ReservationRow, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	r := row.Reservation
	start := r.Interval.Start().In(loc)
	end := r.Interval.End().In(loc)

	kind := "Académica"
	if r.Kind == models.KindNonAcademic {
		kind = "No académica"
	}

	room := row.RoomName
	if room == "" {
		room = r.RoomID
	}
	if row.RoomLocation != "" {
		room += " (" + row.RoomLocation + ")"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Título:* %s\n", escapeMarkdown(r.Title))
	fmt.Fprintf(&b, "*Tipo:* %s\n", kind)
	fmt.Fprintf(&b, "*Fecha:* %s\n", start.Format("02/01/2006"))
	fmt.Fprintf(&b, "*Horario:* %s - %s\n", start.Format(models.ClockLayout), end.Format(models.ClockLayout))
	fmt.Fprintf(&b, "*Aula:* %s", escapeMarkdown(room))
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
