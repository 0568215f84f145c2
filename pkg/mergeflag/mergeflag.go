// Package mergeflag описывает роль транзакционной записи относительно
// ее категории источника мастер-данных: общая запись, измерение (measurement),
// история (history) или полностью объединенная запись (done).
//
// В хранилище роль лежит битовой маской в колонке merge_flag. Пакет
// скрывает битовую арифметику за значениями Role и чистыми функциями.
package mergeflag

import (
	"errors"
	"fmt"
)

// Flag - битовая маска merge_flag
type Flag int

const (
	// General - общие источники, битов нет
	General Flag = 0
	// V2Measurement - измерение от источника семейства V2
	V2Measurement Flag = 1
	// V2History - история от источника семейства V2
	V2History Flag = 2
	// EFAMeasurement - измерение от источника семейства EFA
	EFAMeasurement Flag = 4
	// EFAHistory - история от источника семейства EFA
	EFAHistory Flag = 8
)

// MasterType - категория источника мастер-данных
type MasterType string

const (
	MasterOthers           MasterType = "OTHERS"
	MasterSoftwareWorkshop MasterType = "SOFTWARE_WORKSHOP"
	MasterV2               MasterType = "V2"
	MasterV2Multi          MasterType = "V2_MULTI"
	MasterV2History        MasterType = "V2_HISTORY"
	MasterV2MultiHistory   MasterType = "V2_MULTI_HISTORY"
	MasterEFA              MasterType = "EFA"
	MasterEFAHistory       MasterType = "EFA_HISTORY"
)

// ErrUnknownMasterType - категория не известна машине состояний
var ErrUnknownMasterType = errors.New("mergeflag: unknown master type")

// Family - семейство источников, внутри которого объединяются записи
type Family int

const (
	FamilyGeneral Family = iota
	FamilyV2
	FamilyEFA
)

// String - строковое представление семейства
func (f Family) String() string {
	switch f {
	case FamilyGeneral:
		return "general"
	case FamilyV2:
		return "v2"
	case FamilyEFA:
		return "efa"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Measurement возвращает бит измерения семейства (0 для General)
func (f Family) Measurement() Flag {
	switch f {
	case FamilyV2:
		return V2Measurement
	case FamilyEFA:
		return EFAMeasurement
	}
	return General
}

// History возвращает бит истории семейства (0 для General)
func (f Family) History() Flag {
	switch f {
	case FamilyV2:
		return V2History
	case FamilyEFA:
		return EFAHistory
	}
	return General
}

// Done возвращает флаг полностью объединенной записи семейства
func (f Family) Done() Flag {
	return f.Measurement() | f.History()
}

// Kind - роль записи внутри семейства
type Kind int

const (
	KindGeneral Kind = iota
	KindMeasurement
	KindHistory
	KindDone
)

// String - строковое представление роли
func (k Kind) String() string {
	switch k {
	case KindGeneral:
		return "general"
	case KindMeasurement:
		return "measurement"
	case KindHistory:
		return "history"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Role - тегированное значение {Kind, Family}
type Role struct {
	Kind   Kind
	Family Family
}

// Flag возвращает битовую маску роли
func (r Role) Flag() Flag {
	switch r.Kind {
	case KindMeasurement:
		return r.Family.Measurement()
	case KindHistory:
		return r.Family.History()
	case KindDone:
		return r.Family.Done()
	}
	return General
}

// Missing возвращает роль, которой не хватает до done (ok == false для General и Done)
func (r Role) Missing() (Role, bool) {
	switch r.Kind {
	case KindMeasurement:
		return Role{Kind: KindHistory, Family: r.Family}, true
	case KindHistory:
		return Role{Kind: KindMeasurement, Family: r.Family}, true
	}
	return Role{}, false
}

func (r Role) String() string {
	if r.Kind == KindGeneral {
		return "general"
	}
	return r.Family.String() + "_" + r.Kind.String()
}

// RoleOf возвращает роль, которую получает запись источника категории mt при загрузке
func RoleOf(mt MasterType) (Role, error) {
	switch mt {
	case MasterOthers, MasterSoftwareWorkshop:
		return Role{Kind: KindGeneral, Family: FamilyGeneral}, nil
	case MasterV2, MasterV2Multi:
		return Role{Kind: KindMeasurement, Family: FamilyV2}, nil
	case MasterV2History, MasterV2MultiHistory:
		return Role{Kind: KindHistory, Family: FamilyV2}, nil
	case MasterEFA:
		return Role{Kind: KindMeasurement, Family: FamilyEFA}, nil
	case MasterEFAHistory:
		return Role{Kind: KindHistory, Family: FamilyEFA}, nil
	}
	return Role{}, fmt.Errorf("%w: %q", ErrUnknownMasterType, mt)
}

// CurrentFlag возвращает бит роли категории mt
func CurrentFlag(mt MasterType) (Flag, error) {
	role, err := RoleOf(mt)
	if err != nil {
		return General, err
	}
	return role.Flag(), nil
}

// MissingFlag возвращает дополняющий бит (измерение <-> история).
// Для общих категорий ok == false.
func MissingFlag(mt MasterType) (flag Flag, ok bool, err error) {
	role, err := RoleOf(mt)
	if err != nil {
		return General, false, err
	}
	missing, ok := role.Missing()
	if !ok {
		return General, false, nil
	}
	return missing.Flag(), true, nil
}

// DoneFlag возвращает current | missing, либо current если дополнения нет
func DoneFlag(mt MasterType) (Flag, error) {
	current, err := CurrentFlag(mt)
	if err != nil {
		return General, err
	}
	missing, ok, err := MissingFlag(mt)
	if err != nil {
		return General, err
	}
	if !ok {
		return current, nil
	}
	return current | missing, nil
}

// Classify восстанавливает роль по сохраненному флагу.
// Флаг без битов - General; оба бита семейства - Done.
func Classify(flag Flag) Role {
	for _, fam := range []Family{FamilyV2, FamilyEFA} {
		m, h := flag&fam.Measurement() != 0, flag&fam.History() != 0
		switch {
		case m && h:
			return Role{Kind: KindDone, Family: fam}
		case m:
			return Role{Kind: KindMeasurement, Family: fam}
		case h:
			return Role{Kind: KindHistory, Family: fam}
		}
	}
	return Role{Kind: KindGeneral, Family: FamilyGeneral}
}

// FlagOf приводит значение колонки merge_flag к Flag; NULL даёт ok == false
func FlagOf(v any) (Flag, bool) {
	switch x := v.(type) {
	case Flag:
		return x, true
	case int64:
		return Flag(x), true
	case int:
		return Flag(x), true
	case int32:
		return Flag(x), true
	case float64:
		if x == x {
			return Flag(int64(x)), true
		}
	}
	return General, false
}
