package lotto

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dhlotto/internal/model"
	"dhlotto/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Привязки к API оператора для игры 6/45.

const (
	// UnitPrice - цена одной игры
	UnitPrice = 1000
	// MaxSlots - игр в одной покупке
	MaxSlots = 5
	// WeeklyQuota - лимит игр на недельный цикл
	WeeklyQuota = 5
	// ProductCode - код продукта 6/45 в журнале оператора
	ProductCode = "LO40"
	// ResultUndrawn - строка журнала по еще не разыгранному тиражу
	ResultUndrawn = "미추첨"

	DefaultGameURL = "https://ol.dhlottery.co.kr"

	slotLabels = "ABCDE"
)

type Client interface {
	Balance(ctx context.Context) (model.BalanceSnapshot, error)
	// RoundInfo: round = 0 означает последний тираж
	RoundInfo(ctx context.Context, round int) (model.DrawRecord, error)
	LatestRoundNo(ctx context.Context) (int, error)
	// WeeklyUndrawnCount - подтвержденные игры текущего недельного цикла
	WeeklyUndrawnCount(ctx context.Context) (int, error)
	Ledger(ctx context.Context, from, to time.Time) ([]model.LedgerRow, error)
	Buy(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error)
	BuyHistory(ctx context.Context) ([]model.PurchaseRecord, error)
}

type client struct {
	sess    session.Session
	gameURL string
	zaplog  *zap.Logger
	now     func() time.Time
}

func NewClient(sess session.Session, gameURL string, zaplog *zap.Logger) Client {
	if gameURL == "" {
		gameURL = DefaultGameURL
	}
	return &client{
		sess:    sess,
		gameURL: gameURL,
		zaplog:  zaplog,
		now:     time.Now,
	}
}

// cacheBuster - параметр "_", которым оператор отсекает кеширование
func (c *client) cacheBuster() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// Баланс

type userMndpAnswer struct {
	UserMndp struct {
		PntDpstAmt   int64 `json:"pntDpstAmt"`
		PntTkmnyAmt  int64 `json:"pntTkmnyAmt"`
		NcsblDpstAmt int64 `json:"ncsblDpstAmt"`
		NcsblTkmny   int64 `json:"ncsblTkmnyAmt"`
		CsblDpstAmt  int64 `json:"csblDpstAmt"`
		CsblTkmnyAmt int64 `json:"csblTkmnyAmt"`
		CrntEntrsAmt int64 `json:"crntEntrsAmt"`
		RsvtOrdrAmt  int64 `json:"rsvtOrdrAmt"`
		DawAplyAmt   int64 `json:"dawAplyAmt"`
	} `json:"userMndp"`
}

type myHomeInfoAnswer struct {
	PrchsLmtInfo struct {
		WlyPrchsAcmlAmt int64 `json:"wlyPrchsAcmlAmt"`
	} `json:"prchsLmtInfo"`
}

func (c *client) Balance(ctx context.Context) (model.BalanceSnapshot, error) {
	var user userMndpAnswer
	err := c.sess.GetJSONAuthed(ctx, "/mypage/selectUserMndp.do",
		map[string]string{"_": c.cacheBuster()}, &user)
	if err != nil {
		return model.BalanceSnapshot{}, fmt.Errorf("balance query: %w", err)
	}

	var home myHomeInfoAnswer
	err = c.sess.GetJSONAuthed(ctx, "/mypage/selectMyHomeInfo.do",
		map[string]string{"_": c.cacheBuster()}, &home)
	if err != nil {
		return model.BalanceSnapshot{}, fmt.Errorf("home info query: %w", err)
	}

	m := user.UserMndp
	deposit := (m.PntDpstAmt - m.PntTkmnyAmt) +
		(m.NcsblDpstAmt - m.NcsblTkmny) +
		(m.CsblDpstAmt - m.CsblTkmnyAmt)

	return model.BalanceSnapshot{
		Deposit:            deposit,
		PurchaseAvailable:  m.CrntEntrsAmt,
		Reserved:           m.RsvtOrdrAmt,
		PendingWithdrawal:  m.DawAplyAmt,
		MonthPurchaseTotal: home.PrchsLmtInfo.WlyPrchsAcmlAmt,
	}, nil
}

// Тиражи

type roundInfoAnswer struct {
	List []struct {
		LtEpsd   int    `json:"ltEpsd"`
		Tm1WnNo  int    `json:"tm1WnNo"`
		Tm2WnNo  int    `json:"tm2WnNo"`
		Tm3WnNo  int    `json:"tm3WnNo"`
		Tm4WnNo  int    `json:"tm4WnNo"`
		Tm5WnNo  int    `json:"tm5WnNo"`
		Tm6WnNo  int    `json:"tm6WnNo"`
		BnsWnNo  int    `json:"bnsWnNo"`
		LtRflYmd string `json:"ltRflYmd"`
	} `json:"list"`
}

func (c *client) RoundInfo(ctx context.Context, round int) (model.DrawRecord, error) {
	params := map[string]string{"_": c.cacheBuster()}
	if round > 0 {
		params["srchLtEpsd"] = strconv.Itoa(round)
	}

	var answer roundInfoAnswer
	if err := c.sess.GetJSON(ctx, "/lt645/selectPstLt645Info.do", params, &answer); err != nil {
		return model.DrawRecord{}, fmt.Errorf("round info query: %w", err)
	}
	if len(answer.List) == 0 {
		return model.DrawRecord{}, fmt.Errorf("%w: empty round list (round %d)", session.ErrParse, round)
	}

	item := answer.List[0]
	numbers := []int{item.Tm1WnNo, item.Tm2WnNo, item.Tm3WnNo, item.Tm4WnNo, item.Tm5WnNo, item.Tm6WnNo}
	for _, n := range numbers {
		if n < 1 || n > 45 {
			return model.DrawRecord{}, fmt.Errorf("%w: winning number out of range", session.ErrParse)
		}
	}

	return model.DrawRecord{
		Round:    item.LtEpsd,
		Numbers:  numbers,
		Bonus:    item.BnsWnNo,
		DrawDate: parseDrawDate(item.LtRflYmd),
	}, nil
}

func (c *client) LatestRoundNo(ctx context.Context) (int, error) {
	draw, err := c.RoundInfo(ctx, 0)
	if err != nil {
		return 0, err
	}
	return draw.Round, nil
}

func parseDrawDate(s string) time.Time {
	for _, layout := range []string{"2006-01-02", "20060102", "2006.01.02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Журнал покупок

type ledgerAnswer struct {
	List []struct {
		LtEpsd     int    `json:"ltEpsd"`
		PrchsQty   *int   `json:"prchsQty"`
		LtWnAmt    *int64 `json:"ltWnAmt"`
		LtWnResult string `json:"ltWnResult"`
		NtslOrdrNo string `json:"ntslOrdrNo"`
		GmInfo     string `json:"gmInfo"`
	} `json:"list"`
}

func (c *client) Ledger(ctx context.Context, from, to time.Time) ([]model.LedgerRow, error) {
	var answer ledgerAnswer
	err := c.sess.GetJSONAuthed(ctx, "/mypage/selectMyLotteryledger.do",
		map[string]string{
			"srchStrDt":          from.Format("20060102"),
			"srchEndDt":          to.Format("20060102"),
			"ltGdsCd":            ProductCode,
			"pageNum":            "1",
			"recordCountPerPage": "1000",
			"_":                  c.cacheBuster(),
		}, &answer)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}

	rows := make([]model.LedgerRow, 0, len(answer.List))
	for _, item := range answer.List {
		rows = append(rows, model.LedgerRow{
			Round:     item.LtEpsd,
			Quantity:  item.PrchsQty,
			WonAmount: item.LtWnAmt,
			Result:    item.LtWnResult,
			OrderNo:   item.NtslOrdrNo,
			Barcode:   item.GmInfo,
		})
	}
	return rows, nil
}

func (c *client) WeeklyUndrawnCount(ctx context.Context) (int, error) {
	to := c.now()
	rows, err := c.Ledger(ctx, to.AddDate(0, 0, -7), to)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		if row.Result != ResultUndrawn {
			continue
		}
		if row.Quantity != nil {
			count += *row.Quantity
		}
	}
	return count, nil
}

// Покупка

type execBuyAnswer struct {
	LoginYn string `json:"loginYn"`
	Result  struct {
		ResultCode       string   `json:"resultCode"`
		ResultMsg        string   `json:"resultMsg"`
		BuyRound         string   `json:"buyRound"`
		IssueDay         string   `json:"issueDay"`
		IssueTime        string   `json:"issueTime"`
		WeekDay          string   `json:"weekDay"`
		BarCode1         string   `json:"barCode1"`
		BarCode2         string   `json:"barCode2"`
		BarCode3         string   `json:"barCode3"`
		BarCode4         string   `json:"barCode4"`
		BarCode5         string   `json:"barCode5"`
		BarCode6         string   `json:"barCode6"`
		ArrGameChoiceNum []string `json:"arrGameChoiceNum"`
	} `json:"result"`
}

type readySocketAnswer struct {
	ReadyIP string `json:"ready_ip"`
}

func (c *client) Buy(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error) {
	latest, err := c.LatestRoundNo(ctx)
	if err != nil {
		return model.PurchaseRecord{}, err
	}
	liveRound := latest + 1

	var ready readySocketAnswer
	err = c.sess.PostFormAuthed(ctx, c.gameURL+"/olotto/game/egovUserReadySocket.json", nil, &ready)
	if err != nil {
		return model.PurchaseRecord{}, fmt.Errorf("ready socket: %w", err)
	}

	param, err := buyParam(slots)
	if err != nil {
		return model.PurchaseRecord{}, err
	}

	var answer execBuyAnswer
	err = c.sess.PostFormAuthed(ctx, c.gameURL+"/olotto/game/execBuy.do",
		map[string]string{
			"round":      strconv.Itoa(liveRound),
			"direct":     ready.ReadyIP,
			"nBuyAmount": strconv.Itoa(UnitPrice * len(slots)),
			"param":      param,
			"gameCnt":    strconv.Itoa(len(slots)),
			"saleMdaDcd": "10",
		}, &answer)
	if err != nil {
		// полуисполненную покупку нельзя тихо переотправить:
		// сессия объявляется недействительной целиком
		c.sess.Invalidate()
		return model.PurchaseRecord{}, fmt.Errorf("purchase submit: %w", err)
	}
	if answer.Result.ResultCode != "100" {
		c.sess.Invalidate()
		return model.PurchaseRecord{}, fmt.Errorf("purchase rejected by operator: %s", answer.Result.ResultMsg)
	}

	record, err := parseBuyResult(answer)
	if err != nil {
		return model.PurchaseRecord{}, err
	}
	c.zaplog.Info("purchase confirmed",
		zap.Int("round", record.Round),
		zap.Int("games", len(record.Slots)),
	)
	return record, nil
}

// buyParam собирает json-поле param формы execBuy
func buyParam(slots []model.Slot) (string, error) {
	type gameParam struct {
		GenType          string  `json:"genType"`
		ArrGameChoiceNum *string `json:"arrGameChoiceNum"`
		Alpabet          string  `json:"alpabet"`
	}

	games := make([]gameParam, 0, len(slots))
	for i, slot := range slots {
		g := gameParam{
			GenType: genType(slot.Mode),
			Alpabet: string(slotLabels[i]),
		}
		if slot.Mode != model.ModeAuto {
			numbers := append([]int(nil), slot.Numbers...)
			sort.Ints(numbers)
			parts := make([]string, len(numbers))
			for j, n := range numbers {
				parts[j] = strconv.Itoa(n)
			}
			joined := strings.Join(parts, ",")
			g.ArrGameChoiceNum = &joined
		}
		games = append(games, g)
	}

	raw, err := json.Marshal(games)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func genType(m model.Mode) string {
	switch m {
	case model.ModeManual:
		return "1"
	case model.ModeSemiAuto:
		return "2"
	default:
		return "0"
	}
}

func modeOfCode(code string) model.Mode {
	switch code {
	case "1":
		return model.ModeManual
	case "2":
		return model.ModeSemiAuto
	default:
		return model.ModeAuto
	}
}

// parseBuyResult разбирает подтвержденный билет.
// Элементы arrGameChoiceNum вида "A|09|12|30|33|35|433":
// метка, шесть номеров, последняя цифра - код режима.
func parseBuyResult(answer execBuyAnswer) (model.PurchaseRecord, error) {
	result := answer.Result

	round, err := strconv.Atoi(result.BuyRound)
	if err != nil {
		return model.PurchaseRecord{}, fmt.Errorf("%w: bad buy round %q", session.ErrParse, result.BuyRound)
	}

	slots := make([]model.Slot, 0, len(result.ArrGameChoiceNum))
	for _, game := range result.ArrGameChoiceNum {
		if len(game) < 3 {
			return model.PurchaseRecord{}, fmt.Errorf("%w: bad game entry %q", session.ErrParse, game)
		}
		parts := strings.Split(game[2:len(game)-1], "|")
		numbers := make([]int, 0, len(parts))
		for _, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil {
				return model.PurchaseRecord{}, fmt.Errorf("%w: bad game entry %q", session.ErrParse, game)
			}
			numbers = append(numbers, n)
		}
		slots = append(slots, model.Slot{
			Label:   game[:1],
			Mode:    modeOfCode(game[len(game)-1:]),
			Numbers: numbers,
		})
	}

	barcode := strings.Join([]string{
		result.BarCode1, result.BarCode2, result.BarCode3,
		result.BarCode4, result.BarCode5, result.BarCode6,
	}, " ")

	return model.PurchaseRecord{
		ID:          uuid.NewString(),
		Round:       round,
		Slots:       slots,
		Barcode:     barcode,
		SubmittedAt: time.Now(),
		Rank:        model.RankUnsettled,
	}, nil
}

// История покупок

type ticketDetailAnswer struct {
	Ticket struct {
		GameDtl []struct {
			Idx  string `json:"idx"`
			Type int    `json:"type"`
			Num  []int  `json:"num"`
		} `json:"game_dtl"`
	} `json:"ticket"`
}

// BuyHistory - покупки последней недели с детализацией билетов,
// не более недельной квоты игр
func (c *client) BuyHistory(ctx context.Context) ([]model.PurchaseRecord, error) {
	to := c.now()
	rows, err := c.Ledger(ctx, to.AddDate(0, 0, -7), to)
	if err != nil {
		return nil, err
	}

	var records []model.PurchaseRecord
	games := 0
	for _, row := range rows {
		var detail ticketDetailAnswer
		err := c.sess.GetJSONAuthed(ctx, "/mypage/lotto645TicketDetail.do",
			map[string]string{
				"ntslOrdrNo": row.OrderNo,
				"barcd":      row.Barcode,
				"_":          c.cacheBuster(),
			}, &detail)
		if err != nil {
			return nil, fmt.Errorf("ticket detail query: %w", err)
		}

		slots := make([]model.Slot, 0, len(detail.Ticket.GameDtl))
		for _, game := range detail.Ticket.GameDtl {
			slots = append(slots, model.Slot{
				Label:   game.Idx,
				Mode:    modeOfCode(strconv.Itoa(game.Type)),
				Numbers: game.Num,
			})
		}

		rank := model.RankUnsettled
		records = append(records, model.PurchaseRecord{
			ID:      uuid.NewString(),
			Round:   row.Round,
			Slots:   slots,
			Barcode: row.Barcode,
			Rank:    rank,
		})

		games += len(slots)
		if games >= WeeklyQuota {
			break
		}
	}
	return records, nil
}
