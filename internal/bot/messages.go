package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/rood-one/telegram-anime-downloader/internal/routing"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

const mib = 1024 * 1024

const (
	msgWelcome = "👋 <b>أهلاً بك!</b>\n\n" +
		"أرسل رابط فيديو مباشر، ثم أرسل اسمه، وسأقوم بمعالجته لك."
	msgHelp = "ℹ️ <b>طريقة الاستخدام</b>\n\n" +
		"1. أرسل رابط تحميل مباشر (http أو https).\n" +
		"2. أرسل اسم الملف (مثال: One Piece 1000).\n" +
		"3. اختر طريقة الإرسال.\n\n" +
		"الملفات حتى %s MB تُرسل مباشرة، والأكبر منها تُرفع إلى خدمة تخزين ويصلك الرابط.\n\n" +
		"/cancel إلغاء الجلسة الحالية\n" +
		"/history آخر العمليات"
	msgAskFilename      = "📝 الآن أرسل اسم الملف (مثال: One Piece 1000)"
	msgAskFilenameAgain = "⚠️ اسم الملف فارغ، أرسل اسماً صالحاً."
	msgSendURLFirst     = "⚠️ أرسل الرابط أولاً."
	msgBusy             = "⏳ لديك عملية جارية، انتظر حتى تنتهي."
	msgExpired          = "⚠️ انتهت الجلسة، يرجى إرسال الرابط مرة أخرى."
	msgCancelled        = "✖️ تم إلغاء الجلسة."
	msgNothingToCancel  = "لا توجد جلسة لإلغائها."
	msgUnknownCommand   = "⚠️ أمر غير معروف. /help"
	msgQueued           = "⏳ في قائمة الانتظار، ستبدأ العملية قريباً..."
	msgNoHistory        = "لا توجد عمليات سابقة."
	msgHistoryFailed    = "⚠️ تعذر قراءة السجل حالياً."
	msgShuttingDown     = "⚠️ البوت يعيد التشغيل، يرجى إرسال الرابط مرة أخرى لاحقاً."

	msgProbing      = "🔎 جاري فحص الرابط..."
	msgDirectDown   = "📤 <b>الإرسال المباشر:</b> جاري التحميل..."
	msgDirectUp     = "📤 <b>الإرسال المباشر:</b> جاري الرفع إلى تليجرام..."
	msgProviderDn   = "☁️ <b>%s:</b> جاري التحميل..."
	msgProviderUp   = "☁️ <b>%s:</b> جاري الرفع..."
	msgDirectDone   = "✅ <b>تم الإرسال بنجاح!</b>"
	msgUploadDone   = "✅ <b>تم الرفع بنجاح!</b>\n\n📄 الاسم: <code>%s</code>\n📦 الحجم: <code>%s MB</code>\n☁️ الخدمة: %s\n🔗 <b>رابط التحميل:</b>\n%s"
	msgFailed       = "❌ حدث خطأ أثناء مرحلة %s (الحجم: %s).\n%s"
	msgTooLarge     = "❌ <b>خطأ:</b> الملف كبير جداً (%s MB).\n⚠️ الحد الأقصى هو %s MB.\n🔗 %s"
	msgChoicePrompt = "📄 <b>الملف:</b> <code>%s</code>\n\n<b>اختر طريقة الإرسال:</b>"

	labelDirect   = "📤 إرسال مباشر"
	labelProvider = "☁️ رفع إلى %s"
	labelAuto     = "🤖 تلقائي حسب الحجم"
)

// Caption labels an inline delivery with its name and size.
func Caption(filename string, sizeBytes int64) string {
	return fmt.Sprintf("📄 %s\n📦 الحجم: %s MB", filename, megabytes(sizeBytes))
}

func megabytes(n int64) string {
	if n < 0 {
		return "?"
	}

	return fmt.Sprintf("%.2f", float64(n)/mib)
}

func choiceButtons(providerLabel string) []Button {
	return []Button{
		{Label: labelDirect, Data: transfer.ChoiceDirect.String()},
		{Label: fmt.Sprintf(labelProvider, providerLabel), Data: transfer.ChoiceProvider.String()},
		{Label: labelAuto, Data: transfer.ChoiceAuto.String()},
	}
}

func stageText(stage transfer.Stage, path routing.Path, providerLabel string) string {
	switch stage {
	case transfer.StageProbe:
		return msgProbing
	case transfer.StageDownload:
		if path == routing.DeliverInline {
			return msgDirectDown
		}

		return fmt.Sprintf(msgProviderDn, html.EscapeString(providerLabel))
	case transfer.StageDeliver:
		return msgDirectUp
	case transfer.StageUpload:
		return fmt.Sprintf(msgProviderUp, html.EscapeString(providerLabel))
	default:
		return ""
	}
}

func stageName(stage transfer.Stage) string {
	switch stage {
	case transfer.StageProbe:
		return "الفحص"
	case transfer.StageDownload:
		return "التحميل"
	case transfer.StageRoute:
		return "التوجيه"
	case transfer.StageDeliver:
		return "الإرسال المباشر"
	case transfer.StageUpload:
		return "الرفع"
	default:
		return string(stage)
	}
}

// resultText renders the terminal status of a job.
func resultText(req transfer.Request, res transfer.Result) string {
	switch res.Outcome {
	case transfer.DeliveredInline:
		return msgDirectDone
	case transfer.DeliveredViaProvider:
		return fmt.Sprintf(msgUploadDone,
			html.EscapeString(req.Filename), megabytes(res.SizeBytes), html.EscapeString(res.Provider), html.EscapeString(res.Link))
	}

	var sizeErr *transfer.SizeExceededError
	if errors.As(res.Err, &sizeErr) {
		return fmt.Sprintf(msgTooLarge, megabytes(sizeErr.SizeBytes), megabytes(sizeErr.LimitBytes), html.EscapeString(sizeErr.SourceURL))
	}

	size := megabytes(res.SizeBytes) + " MB"
	if res.SizeBytes < 0 {
		size = "غير معروف"
	}

	return fmt.Sprintf(msgFailed, stageName(res.Stage), size, reason(res.Err))
}

// reason explains a failure without echoing raw transport errors.
func reason(err error) string {
	var (
		chain    *transfer.ChainError
		download *transfer.DownloadError
		invalid  *transfer.InvalidInputError
		resource *transfer.ResourceError
	)

	switch {
	case errors.As(err, &invalid):
		return "الرابط غير صالح أو غير متاح (" + html.EscapeString(invalid.Reason) + ")."
	case errors.As(err, &resource):
		return "خطأ في التخزين المؤقت على الخادم."
	case errors.As(err, &chain):
		if len(chain.Errs) == 0 {
			return "لا توجد خدمة رفع مفعّلة."
		}

		names := make([]string, 0, len(chain.Errs))
		for _, e := range chain.Errs {
			var pe *transfer.ProviderError
			if errors.As(e, &pe) {
				names = append(names, pe.Provider)
			}
		}

		return "فشل الرفع إلى جميع الخدمات: " + html.EscapeString(strings.Join(names, ", ")) + "."
	case errors.As(err, &download):
		return fmt.Sprintf("تعذر تحميل الملف بعد %d محاولة.", download.Attempts)
	default:
		return "حدث خطأ غير متوقع."
	}
}

func historyText(records []storage.TransferRecord) string {
	if len(records) == 0 {
		return msgNoHistory
	}

	var b strings.Builder

	b.WriteString("🗂 <b>آخر العمليات:</b>\n")

	for _, r := range records {
		fmt.Fprintf(&b, "\n• <code>%s</code> | %s | %s MB", html.EscapeString(r.Filename), statusLabel(r.Status), megabytes(r.SizeBytes))

		if r.Link != "" {
			fmt.Fprintf(&b, "\n  %s", html.EscapeString(r.Link))
		}
	}

	return b.String()
}

func statusLabel(status string) string {
	switch status {
	case storage.StatusRunning:
		return "⏳ جارية"
	case storage.StatusInline:
		return "✅ أُرسل مباشرة"
	case storage.StatusProvider:
		return "✅ رُفع"
	case storage.StatusInterrupted:
		return "⚠️ توقفت"
	default:
		return "❌ فشلت"
	}
}
