package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"thrivesight/pkg/common"
)

// 记录格式:
// [CRC32 4B] [Timestamp 8B] [Seq 8B] [ValSize 4B] [Value NB]

const (
	HeaderSize = 4 + 8 + 8 + 4 // 24 Bytes
)

var (
	ErrCorrupted   = errors.New("journal: corrupted value")
	ErrCRCMismatch = errors.New("journal: crc mismatch")
)

// Journal 只追加的样本日志，下次训练时合并进数据集
type Journal struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	seq  uint64

	dropped int64 // 打开时截掉的残缺字节数
}

// OpenJournal opens or creates the journal at path. A partially written
// trailing frame is cut back to the last intact frame.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		file: f,
		buf:  bufio.NewWriter(f),
	}

	if err := j.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// recover 统计完整的记录，截掉之后的残缺部分
func (j *Journal) recover() error {
	it, err := j.NewIterator()
	if err != nil {
		return err
	}
	defer it.Close()

	var n uint64
	for {
		_, err := it.Next()
		if err == io.EOF {
			break
		}
		if err == ErrCorrupted || err == ErrCRCMismatch {
			st, serr := j.file.Stat()
			if serr != nil {
				return serr
			}
			j.dropped = st.Size() - it.offset
			if err := j.file.Truncate(it.offset); err != nil {
				return err
			}
			if err := j.file.Sync(); err != nil {
				return err
			}
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	j.seq = n
	return nil
}

// Dropped reports how many bytes of torn tail OpenJournal removed.
func (j *Journal) Dropped() int64 { return j.dropped }

func (j *Journal) Append(s common.Sample) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	value := common.EncodeSample(s)
	header := make([]byte, HeaderSize)
	ts := uint64(time.Now().UnixNano())

	binary.LittleEndian.PutUint64(header[4:12], ts)
	binary.LittleEndian.PutUint64(header[12:20], j.seq+1)
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(value)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(value)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := j.buf.Write(header); err != nil {
		return err
	}
	if _, err := j.buf.Write(value); err != nil {
		return err
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	j.seq++
	return nil
}

// Count is the number of samples appended since the last truncate.
func (j *Journal) Count() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *Journal) Close() error {
	j.buf.Flush()
	return j.file.Close()
}

func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	path := j.file.Name()
	if err := j.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.file = f
	j.buf = bufio.NewWriter(f)
	j.seq = 0
	return j.file.Sync()
}

func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// LoadAll 按写入顺序读取全部样本
func (j *Journal) LoadAll() ([]common.Sample, error) {
	it, err := j.NewIterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []common.Sample
	for {
		s, err := it.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

type JournalIterator struct {
	reader *bufio.Reader
	file   *os.File
	offset int64 // 最后一条完整记录的结束位置
}

func (j *Journal) NewIterator() (*JournalIterator, error) {
	j.mu.Lock()
	err := j.buf.Flush()
	name := j.file.Name()
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &JournalIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

func (it *JournalIterator) Next() (common.Sample, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(it.reader, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return common.Sample{}, ErrCorrupted
		}
		return common.Sample{}, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	valSize := binary.LittleEndian.Uint32(header[20:24])
	if valSize != common.SampleSize {
		return common.Sample{}, ErrCorrupted
	}

	value := make([]byte, valSize)
	if _, err := io.ReadFull(it.reader, value); err != nil {
		return common.Sample{}, ErrCorrupted
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(value)
	if checksum.Sum32() != storedCRC {
		return common.Sample{}, ErrCRCMismatch
	}

	s, err := common.DecodeSample(value)
	if err != nil {
		return common.Sample{}, err
	}
	it.offset += int64(HeaderSize) + int64(valSize)
	return s, nil
}

func (it *JournalIterator) Close() {
	it.file.Close()
}
