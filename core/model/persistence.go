package model

import (
	"encoding/gob"
	"io"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

// Register はインターフェース型のフィールドに格納される具象モデル型を gob に登録する。
// 学習器パッケージは init で自身の型を登録する。
func Register(values ...interface{}) {
	for _, v := range values {
		gob.Register(v)
	}
}

// SaveModelToWriter はモデルをio.Writerに保存する
//
// 使用例:
//
//	var buf bytes.Buffer
//	err := model.SaveModelToWriter(artifact, &buf)
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む。model はポインタであること
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
