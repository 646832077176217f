package store

import "fmt"

// Seed inserts the sample question bank when the table is empty.
func (s *Store) Seed() error {
	count, err := s.CountQuestions()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO questions (text, option_a, option_b, option_c, option_d, correct_option, category, difficulty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	for _, q := range sampleQuestions {
		if _, err := stmt.Exec(q.Text, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
			q.CorrectOption, q.Category, q.Difficulty); err != nil {
			return fmt.Errorf("seed question: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.log.Info().Int("count", len(sampleQuestions)).Msg("seeded question bank")
	return nil
}

var sampleQuestions = []Question{
	{Text: "Which planet is closest to the Sun?", OptionA: "Mercury", OptionB: "Venus", OptionC: "Earth", OptionD: "Mars", CorrectOption: "A", Category: "science", Difficulty: 1},
	{Text: "In which year did the Berlin Wall fall?", OptionA: "1985", OptionB: "1989", OptionC: "1991", OptionD: "1993", CorrectOption: "B", Category: "history", Difficulty: 2},
	{Text: "What is the capital of Australia?", OptionA: "Sydney", OptionB: "Melbourne", OptionC: "Canberra", OptionD: "Perth", CorrectOption: "C", Category: "geography", Difficulty: 2},
	{Text: "Who painted the Mona Lisa?", OptionA: "Michelangelo", OptionB: "Raphael", OptionC: "Caravaggio", OptionD: "Leonardo da Vinci", CorrectOption: "D", Category: "art", Difficulty: 1},
	{Text: "How many sides does a heptagon have?", OptionA: "6", OptionB: "7", OptionC: "8", OptionD: "9", CorrectOption: "B", Category: "math", Difficulty: 1},
	{Text: "Which chemical element has the symbol Au?", OptionA: "Silver", OptionB: "Gold", OptionC: "Aluminium", OptionD: "Arsenic", CorrectOption: "B", Category: "science", Difficulty: 1},
	{Text: "Who wrote the Divine Comedy?", OptionA: "Petrarch", OptionB: "Boccaccio", OptionC: "Dante Alighieri", OptionD: "Ariosto", CorrectOption: "C", Category: "literature", Difficulty: 1},
	{Text: "In which ocean is the Bermuda Triangle?", OptionA: "Pacific", OptionB: "Indian", OptionC: "Atlantic", OptionD: "Arctic", CorrectOption: "C", Category: "geography", Difficulty: 2},
	{Text: "What is the largest mammal in the world?", OptionA: "African elephant", OptionB: "Blue whale", OptionC: "Orca", OptionD: "Whale shark", CorrectOption: "B", Category: "nature", Difficulty: 1},
	{Text: "How many strings does a classical guitar have?", OptionA: "4", OptionB: "5", OptionC: "6", OptionD: "8", CorrectOption: "C", Category: "music", Difficulty: 1},
	{Text: "Which country has won the most football World Cups?", OptionA: "Germany", OptionB: "Argentina", OptionC: "Italy", OptionD: "Brazil", CorrectOption: "D", Category: "sport", Difficulty: 1},
	{Text: "According to tradition, in which year was Rome founded?", OptionA: "753 BC", OptionB: "509 BC", OptionC: "476 AD", OptionD: "800 BC", CorrectOption: "A", Category: "history", Difficulty: 2},
	{Text: "What is the longest river in the world?", OptionA: "Nile", OptionB: "Amazon", OptionC: "Yangtze", OptionD: "Mississippi", CorrectOption: "B", Category: "geography", Difficulty: 2},
	{Text: "Who formulated the theory of relativity?", OptionA: "Newton", OptionB: "Einstein", OptionC: "Galileo", OptionD: "Hawking", CorrectOption: "B", Category: "science", Difficulty: 1},
	{Text: "Which of these is a prime number?", OptionA: "15", OptionB: "21", OptionC: "17", OptionD: "27", CorrectOption: "C", Category: "math", Difficulty: 1},
	{Text: "In which city is the Colosseum?", OptionA: "Athens", OptionB: "Rome", OptionC: "Naples", OptionD: "Florence", CorrectOption: "B", Category: "culture", Difficulty: 1},
	{Text: "How many planets are in the Solar System?", OptionA: "7", OptionB: "8", OptionC: "9", OptionD: "10", CorrectOption: "B", Category: "science", Difficulty: 1},
	{Text: "Who is the author of 1984?", OptionA: "Aldous Huxley", OptionB: "Ray Bradbury", OptionC: "George Orwell", OptionD: "Philip K. Dick", CorrectOption: "C", Category: "literature", Difficulty: 2},
	{Text: "Which country's flag bears a maple leaf?", OptionA: "USA", OptionB: "Australia", OptionC: "Canada", OptionD: "New Zealand", CorrectOption: "C", Category: "geography", Difficulty: 1},
	{Text: "How many degrees is a right angle?", OptionA: "45", OptionB: "90", OptionC: "180", OptionD: "360", CorrectOption: "B", Category: "math", Difficulty: 1},
	{Text: "What gas do plants absorb from the air?", OptionA: "Oxygen", OptionB: "Nitrogen", OptionC: "Carbon dioxide", OptionD: "Hydrogen", CorrectOption: "C", Category: "science", Difficulty: 1},
	{Text: "Which instrument measures atmospheric pressure?", OptionA: "Thermometer", OptionB: "Barometer", OptionC: "Hygrometer", OptionD: "Anemometer", CorrectOption: "B", Category: "science", Difficulty: 2},
	{Text: "Who composed The Four Seasons?", OptionA: "Bach", OptionB: "Mozart", OptionC: "Vivaldi", OptionD: "Beethoven", CorrectOption: "C", Category: "music", Difficulty: 2},
	{Text: "What is the smallest country in the world?", OptionA: "Monaco", OptionB: "San Marino", OptionC: "Vatican City", OptionD: "Liechtenstein", CorrectOption: "C", Category: "geography", Difficulty: 1},
}
